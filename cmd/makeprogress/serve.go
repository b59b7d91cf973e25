package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rahul/makeprogress/internal/agent"
	"github.com/rahul/makeprogress/internal/gateway"
	"github.com/rahul/makeprogress/internal/governance"
	"github.com/rahul/makeprogress/internal/store"
	"github.com/rahul/makeprogress/pkg/config"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the planning service",
	Long: `Start the HTTP planning service.

Endpoints:
- POST /api/plan/stream   steps as a server-sent event stream
- POST /api/plan          all steps in one JSON response
- GET  /api/generations   recent generations from the journal
- GET  /health`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
	serveCmd.Flags().Bool("debug", false, "enable gin debug mode")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Server.Debug = true
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		return errors.New("no enabled provider found in config; set OPENAI_API_KEY and OPENAI_MODEL")
	}
	if err := pCfg.Validate(); err != nil {
		return err
	}
	llm, err := newModel(pName, pCfg)
	if err != nil {
		return err
	}

	planner := agent.NewPlanner(llm, agent.NewPromptManager(cfg.App.Prompts), logger)
	if pCfg.Temperature > 0 {
		planner.Temperature = pCfg.Temperature
	}

	policy, err := newPolicy(cfg.Policy)
	if err != nil {
		return err
	}

	opts := []gateway.ServerOption{gateway.WithServerLogger(logger)}
	if cfg.Journal.Enabled {
		journal, err := store.NewJournal(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		opts = append(opts, gateway.WithJournal(journal))
	}

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gateway.NewServer(cfg.Server.Addr, planner, policy, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func newModel(name string, p config.ProviderConfig) (llms.Model, error) {
	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s is not supported", name)
	}
}

func newPolicy(cfg config.PolicyConfig) (*governance.DefaultPolicyEngine, error) {
	policy := governance.NewDefaultPolicyEngine()
	policy.MaxTaskLength = cfg.MaxTaskLength
	policy.MaxCompleted = cfg.MaxCompleted
	for _, pattern := range cfg.DenyPatterns {
		if err := policy.DenyTask(pattern); err != nil {
			return nil, err
		}
	}
	return policy, nil
}
