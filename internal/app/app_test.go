package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"phinance/internal/config"
	"phinance/internal/gateway/provider"
	"phinance/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ answer string }

func (s stubProvider) ID() string    { return "stub" }
func (s stubProvider) Enabled() bool { return true }
func (s stubProvider) Call(context.Context, provider.ChatPayload) (string, error) {
	return s.answer, nil
}

func writeConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	body := `
app:
  log_level: error
  http_addr: "127.0.0.1:0"
store:
  path: "` + filepath.ToSlash(filepath.Join(dir, "phinance.db")) + `"
audit:
  path: "` + filepath.ToSlash(filepath.Join(dir, "audit.db")) + `"
  verify_on_start: true
ai:
  models:
    - id: stub
      provider: openai
      enabled: true
      api_url: http://127.0.0.1:1
      model: stub-model
portfolios:
  - tag: KALIC
    starting_cash: 500000
    symbols: [AAPL]
  - tag: DC
    starting_cash: 250000
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func buildTestApp(t *testing.T, answer string) *App {
	t.Helper()
	cfg := writeConfig(t)
	b := NewAppBuilder(cfg, WithModelProviders(func(config.AIConfig) ([]provider.ModelProvider, error) {
		return []provider.ModelProvider{stubProvider{answer: answer}}, nil
	}))
	a, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func call(t *testing.T, a *App, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.HTTPServer().Handler().ServeHTTP(rec, req)
	return rec
}

func TestBuildInitialisesBooks(t *testing.T) {
	a := buildTestApp(t, `{"decisions":[]}`)
	ctx := context.Background()

	book, ok, err := a.store.LoadBook(ctx, types.PortfolioKALIC)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 500000.0, book.Cash)

	book, ok, err = a.store.LoadBook(ctx, types.PortfolioDC)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 250000.0, book.Cash)

	assert.Equal(t, []string{"stub"}, a.Summary.Providers)
	assert.Len(t, a.Summary.Portfolios, 2)
	assert.ElementsMatch(t, []types.PortfolioTag{types.PortfolioKALIC, types.PortfolioDC}, a.Engine().Portfolios())
}

func TestSessionAndCycleOverHTTP(t *testing.T) {
	a := buildTestApp(t, `{"analysis":"flat tape","decisions":[{"symbol":"AAPL","action":"HOLD","confidence":0.6}]}`)

	rec := call(t, a, http.MethodPut, "/api/prices/AAPL", `{"price":190.25}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, a, http.MethodPost, "/api/cycle/KALIC", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, a, http.MethodPost, "/api/sessions/start", `{"notes":"smoke"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, a, http.MethodPost, "/api/cycle/KALIC", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Decisions []types.TradeDecision `json:"decisions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Decisions, 1)
	assert.Equal(t, types.OutcomeHold, out.Decisions[0].Outcome)

	rec = call(t, a, http.MethodGet, "/api/portfolios/KALIC/snapshots", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = call(t, a, http.MethodGet, "/api/audit/verify", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)

	rec = call(t, a, http.MethodPost, "/api/sessions/end", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRiskSurfaceWired(t *testing.T) {
	a := buildTestApp(t, `{"decisions":[]}`)

	rec := call(t, a, http.MethodPut, "/api/portfolios/DC/mode", `{"mode":"conservative","reason":"test"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, a, http.MethodGet, "/api/portfolios/DC/risk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"conservative"`)

	rec = call(t, a, http.MethodGet, "/api/portfolios/XX/risk", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHaltedEngineStopsQueueTicks(t *testing.T) {
	a := buildTestApp(t, `{"decisions":[]}`)
	ctx := context.Background()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	open := time.Date(2026, 3, 3, 10, 0, 0, 0, ny)
	require.NoError(t, a.Prices().Update("AAPL", 10, open))

	limit := 10.0
	id, err := a.Queue().Enqueue(ctx, types.QueuedTrade{
		Portfolio: types.PortfolioKALIC, Symbol: "AAPL", Action: types.ActionBuy, Quantity: 1, TargetPrice: &limit,
	})
	require.NoError(t, err)

	a.Engine().Halt("audit chain broken at entry 2")
	a.scheduler.SetClock(func() time.Time { return open })
	rep := a.scheduler.TickOnce(ctx)
	assert.Equal(t, "audit chain broken at entry 2", rep.Halted)
	got, err := a.Queue().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStatusQueued, got.Status)

	require.NoError(t, a.Engine().ResumeTrading(ctx))
	rep = a.scheduler.TickOnce(ctx)
	assert.Empty(t, rep.Halted)
	got, err = a.Queue().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.QueueStatusExecuted, got.Status)
}
