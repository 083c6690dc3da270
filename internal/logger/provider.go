package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// Provider exchanges (request payload + raw answer) go to a separate sink so the
// main log stays readable; nothing is written unless a writer is installed.
var (
	providerMu   sync.Mutex
	providerLog  *log.Logger
	providerDump bool
)

func SetProviderWriter(w io.Writer) {
	providerMu.Lock()
	defer providerMu.Unlock()
	if w == nil {
		providerLog = nil
		return
	}
	providerLog = log.New(w, "", log.LstdFlags)
}

func EnableProviderDump(enabled bool) {
	providerMu.Lock()
	providerDump = enabled
	providerMu.Unlock()
}

type dumpSection struct {
	title string
	body  string
}

func writeExchange(kind, provider, trace string, sections []dumpSection) {
	providerMu.Lock()
	out := providerLog
	enabled := providerDump
	providerMu.Unlock()
	if out == nil || !enabled {
		return
	}
	var b strings.Builder
	b.WriteString("[PROVIDER][")
	b.WriteString(kind)
	b.WriteString("][")
	b.WriteString(provider)
	b.WriteString("]")
	if trace != "" {
		b.WriteString("[")
		b.WriteString(trace)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		b.WriteString("--- ")
		b.WriteString(sec.title)
		b.WriteString(" ---\n")
		b.WriteString(sec.body)
		if !strings.HasSuffix(sec.body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

func LogProviderRequest(provider, trace, system, user string) {
	writeExchange("request", provider, trace, []dumpSection{
		{title: "SYSTEM", body: system},
		{title: "USER", body: user},
	})
}

func LogProviderResponse(provider, trace, raw string) {
	writeExchange("response", provider, trace, []dumpSection{{title: "RAW", body: raw}})
}
