package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	confirmx "github.com/tanpawarit/crm-copilot/agent/confirm"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
	dispatchx "github.com/tanpawarit/crm-copilot/agent/dispatch"
	llmx "github.com/tanpawarit/crm-copilot/agent/llm"
	orchestratorx "github.com/tanpawarit/crm-copilot/agent/orchestrator"
	promptx "github.com/tanpawarit/crm-copilot/agent/prompt"
	sessionx "github.com/tanpawarit/crm-copilot/agent/session"
	toolx "github.com/tanpawarit/crm-copilot/agent/tool"
	backendx "github.com/tanpawarit/crm-copilot/backend"
	configx "github.com/tanpawarit/crm-copilot/pkg/config"
	_ "github.com/tanpawarit/crm-copilot/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/crm-copilot/pkg/openrouter"
	serverx "github.com/tanpawarit/crm-copilot/server"
)

type AppConfig struct {
	BackendDriver string        `envconfig:"BACKEND_DRIVER" split_words:"true" default:"memory"`
	ConfirmTTL    time.Duration `envconfig:"CONFIRM_TTL" split_words:"true" default:"2m"`
	MaxToolDepth  int           `envconfig:"MAX_TOOL_DEPTH" split_words:"true" default:"4"`
}

func main() {
	ctx := context.Background()

	appCfg := configx.MustNew[AppConfig]("AGENT")
	serverCfg := configx.MustNew[serverx.Config]("SERVER")
	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")

	probeModelEndpoint(ctx, *openRouterCfg)

	store, cleanup := buildBackend(appCfg.BackendDriver)
	defer cleanup()

	registry, err := toolx.BuildCatalog(store)
	if err != nil {
		log.Fatal().Err(err).Msg("build tool catalog")
	}

	gate := confirmx.NewGate(appCfg.ConfirmTTL, contractx.ProposalNotifierFunc(func(action contractx.ProposedAction) {
		log.Info().
			Str("session_id", action.SessionID).
			Str("request_id", action.RequestID).
			Str("description", action.Description).
			Time("deadline", action.Deadline).
			Msg("action awaiting decision")
	}))

	dispatcher, err := dispatchx.New(registry, gate)
	if err != nil {
		log.Fatal().Err(err).Msg("build dispatcher")
	}

	provider, err := llmx.New(ctx, openRouterCfg, registry, promptx.System())
	if err != nil {
		log.Fatal().Err(err).Msg("build model provider")
	}

	sessions := sessionx.NewManager()
	agent, err := orchestratorx.New(sessions, dispatcher, provider, orchestratorx.Config{
		MaxToolDepth: appCfg.MaxToolDepth,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build orchestrator")
	}

	handler := serverx.NewHandler(agent, gate, sessions)
	srv := &http.Server{
		Addr:    serverCfg.Addr,
		Handler: handler.Routes(*serverCfg),
	}

	go func() {
		log.Info().Str("addr", serverCfg.Addr).Str("backend", appCfg.BackendDriver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("server stopped")
}

func buildBackend(driver string) (contractx.Backend, func()) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return backendx.NewMemoryStore(), func() {}
	case "postgres":
		cfg := configx.MustNew[backendx.PostgresConfig]("POSTGRES")
		store, err := backendx.NewPostgresStore(*cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("build postgres backend")
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("close postgres backend")
			}
		}
	case "odoo":
		cfg := configx.MustNew[backendx.OdooConfig]("ODOO")
		store, err := backendx.NewOdooStore(*cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("build odoo backend")
		}
		return store, func() {}
	default:
		log.Fatal().Str("driver", driver).Msg("unknown backend driver")
		return nil, nil
	}
}

// probeModelEndpoint checks OpenRouter reachability at startup. Best effort:
// a failure is logged, never fatal.
func probeModelEndpoint(ctx context.Context, cfg openrouterx.Config) {
	client := openrouterx.NewClient(cfg)
	if client == nil {
		log.Warn().Msg("openrouter client not configured, skipping connectivity probe")
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Models.List(probeCtx); err != nil {
		log.Warn().Err(err).Msg("openrouter connectivity probe failed")
		return
	}
	log.Info().Str("model", cfg.Model).Msg("openrouter reachable")
}
