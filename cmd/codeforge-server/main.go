// Command codeforge-server runs the full pipeline: it loads bootstrap
// config, unlocks the tenant credential vault, wires one LLM client per
// tenant behind a TenantRouter, starts the four stage workers, and serves
// until an interrupt asks it to drain and exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"codeforge/pkg/agent"
	"codeforge/pkg/agentadapter"
	"codeforge/pkg/config"
	forgegithub "codeforge/pkg/forge/github"
	"codeforge/pkg/github"
	"codeforge/pkg/lifecycle"
	"codeforge/pkg/limiter"
	"codeforge/pkg/logx"
	"codeforge/pkg/metrics"
	"codeforge/pkg/storage"
	"codeforge/pkg/vault"
	"codeforge/pkg/worker"
)

var log = logx.NewLogger("codeforge-server")

func main() {
	configPath := flag.String("config", "codeforge.yaml", "path to the bootstrap config file")
	remote := flag.String("remote", "", "git remote URL the pr-open stage opens pull requests against (owner/repo inferred)")
	flag.Parse()

	if err := run(*configPath, *remote); err != nil {
		log.Error("fatal: %v", err)
		os.Exit(1)
	}
}

func run(configPath, remote string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	router, budget, err := buildTenantRouter(cfg)
	if err != nil {
		return fmt.Errorf("build tenant router: %w", err)
	}
	recorder := metrics.NewPipelineRecorder()

	var prCollaborator worker.PRCollaborator = noopPRCollaborator{}
	if remote != "" {
		if err := github.CheckAuth(context.Background()); err != nil {
			return fmt.Errorf("gh CLI not authenticated, required for pr-open stage: %w", err)
		}
		c, err := forgegithub.NewClientFromRemote(remote)
		if err != nil {
			return fmt.Errorf("build forge client: %w", err)
		}
		prCollaborator = c
	}

	go serveMetrics(cfg.MetricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := lifecycle.Start(ctx, lifecycle.Config{
		DBPath:   cfg.DBPath,
		RedisURL: cfg.RedisURL,
		Agent:    router,
		Forge:    prCollaborator,
		Budget:   budget,
		Metrics:  recorder,
	})
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	return pipeline.Stop()
}

// noopPRCollaborator is the pr-open binding used when no git remote is
// configured; opening a PR fails loudly rather than silently no-opping so a
// misconfigured deployment doesn't lose work quietly.
type noopPRCollaborator struct{}

func (noopPRCollaborator) OpenPullRequest(ctx context.Context, jc agent.JobContext, code agent.CodeResult) (int, string, error) {
	return 0, "", fmt.Errorf("codeforge-server: no forge remote configured, cannot open a pull request")
}

// buildTenantRouter unlocks the vault and binds one LLM client per tenant
// credential, registering each tenant's plan quota with a shared limiter
// that the worker package consults before every agent call.
func buildTenantRouter(cfg config.Config) (*agentadapter.TenantRouter, *limiter.Limiter, error) {
	router := agentadapter.NewTenantRouter()
	budget := limiter.New()

	if !vault.Exists(cfg.VaultPath) {
		log.Warn("no vault file at %s; starting with zero tenant credentials bound", cfg.VaultPath)
		return router, budget, nil
	}

	password, err := readVaultPassword()
	if err != nil {
		return nil, nil, fmt.Errorf("read vault password: %w", err)
	}

	store, err := vault.Decrypt(cfg.VaultPath, password)
	if err != nil {
		return nil, nil, fmt.Errorf("unlock vault: %w", err)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage for plan lookup: %w", err)
	}
	defer func() { _ = db.Conn().Close() }()
	raw := storage.NewRawClient(db)

	for tenantID, cred := range store {
		defaults := cfg.Providers[config.Provider(cred.Provider)]
		model := cred.Model
		if model == "" {
			model = defaults.Model
		}

		client, err := agentadapter.NewClient(config.Provider(cred.Provider), cred.APIKey, model, defaults.BaseURL)
		if err != nil {
			log.Error("tenant %s: skipping, %v", tenantID, err)
			continue
		}
		router.Bind(tenantID, agentadapter.New(client))

		if tenant, err := raw.GetTenant(tenantID); err == nil {
			if plan, err := raw.GetPlan(tenant.PlanID); err == nil {
				budget.SetPlan(tenantID, plan.MaxTokensPerMonth, plan.MaxModelCallsPerMonth)
			}
		}
		log.Info("tenant %s bound to %s/%s", tenantID, cred.Provider, model)
	}

	return router, budget, nil
}

func readVaultPassword() (string, error) {
	if pw := os.Getenv("CODEFORGE_VAULT_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(os.Stderr, "vault password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password from terminal: %w", err)
	}
	return string(pw), nil
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server: %v", err)
	}
}
