package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"phinance/internal/app"
	"phinance/internal/config"
	"phinance/internal/logger"
	"phinance/internal/types"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "phinance",
		Short:         "Multi-provider paper trading decision engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath, "config file path (PHINANCE_CONFIG overrides)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the control HTTP surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), cfgPath, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "verify-audit",
		Short: "Walk the audit hash chain and report the first broken entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), cfgPath, func(ctx context.Context, a *app.App) error {
				defer a.Close()
				res, err := a.Engine().VerifyAudit(ctx)
				printJSON(cmd.OutOrStdout(), res)
				return err
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run-cycle PORTFOLIO",
		Short: "Run one decision cycle for a portfolio inside the active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfgPath, func(ctx context.Context, a *app.App) error {
				defer a.Close()
				decisions, err := a.Engine().RunCycle(ctx, types.NormalizePortfolio(args[0]))
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), decisions)
				return nil
			})
		},
	})
	return root
}

// withApp loads config, sets up log sinks and builds the app; fn gets a
// context cancelled on SIGINT/SIGTERM.
func withApp(parent context.Context, flagPath string, fn func(context.Context, *app.App) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ResolvePath(flagPath))
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return fmt.Errorf("init log file failed: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetProviderWriter(nil)
	if cfg.App.ProviderDump {
		f, err := setupProviderLogOutput(cfg.App.ProviderLog)
		if err != nil {
			return fmt.Errorf("init provider log failed: %w", err)
		}
		if f != nil {
			defer f.Close()
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.EnableProviderDump(cfg.App.ProviderDump)
	logger.Infof("✓ config loaded (env=%s, portfolios=%d)", cfg.App.Env, len(cfg.Portfolios))

	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("init app failed: %w", err)
	}
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupProviderLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetProviderWriter(f)
	return f, nil
}
