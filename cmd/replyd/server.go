package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/replyd/internal/api"
	"github.com/kalambet/replyd/internal/classify"
	"github.com/kalambet/replyd/internal/config"
	"github.com/kalambet/replyd/internal/content"
	"github.com/kalambet/replyd/internal/crm"
	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/engine"
	"github.com/kalambet/replyd/internal/events"
	"github.com/kalambet/replyd/internal/notify"
	"github.com/kalambet/replyd/internal/operator"
	"github.com/kalambet/replyd/internal/pipeline"
	"github.com/kalambet/replyd/internal/platform"
	"github.com/kalambet/replyd/internal/platform/facebook"
	"github.com/kalambet/replyd/internal/platform/instagram"
	"github.com/kalambet/replyd/internal/platform/linkedin"
	"github.com/kalambet/replyd/internal/platform/twitter"
	"github.com/kalambet/replyd/internal/platform/youtube"
	"github.com/kalambet/replyd/internal/policy"
	"github.com/kalambet/replyd/internal/reply"
	"github.com/kalambet/replyd/internal/scheduler"
	"github.com/kalambet/replyd/internal/storage"
	"github.com/kalambet/replyd/internal/triggers"
	"github.com/kalambet/replyd/internal/voice"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the replyd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running replyd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replyd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

// daemon is the fully wired server process.
type daemon struct {
	cfg      config.Config
	store    *storage.Store
	hub      *events.Hub
	voice    *voice.Manager
	sched    *scheduler.Scheduler
	ops      *operator.Service
	worker   *crm.Worker
	handler  http.Handler
	telegram *notify.Telegram
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "replyd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	pid := pidFile(filepath.Join(cfg.Storage.DataDir, "replyd.pid"))
	if up, _ := checkHealth(cfg.Server.Port); up {
		if n, err := pid.read(); err == nil {
			return fmt.Errorf("replyd is already running (PID %d)", n)
		}
		return fmt.Errorf("port %d is already serving replyd", cfg.Server.Port)
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := assemble(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()
	return d.serve(ctx, withMCP || cfg.Server.MCPStdio)
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// assemble builds every component from cfg. The engine is checked (and an
// Ollama model pulled) before anything else opens.
func assemble(ctx context.Context, cfg config.Config) (*daemon, error) {
	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("initializing API token: %w", err)
	}

	eng, err := engine.New(ctx, engine.Config{
		Provider:      cfg.Engine.Provider,
		Model:         cfg.Engine.Model,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
		GeminiAPIKey:  cfg.Gemini.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr); err != nil {
		return nil, err
	}

	var prof voice.Profile
	if cfg.Voice.ProfileFile != "" {
		if prof, err = voice.LoadProfileFile(cfg.Voice.ProfileFile); err != nil {
			return nil, err
		}
		slog.Info("loaded voice profile", "path", cfg.Voice.ProfileFile)
	}

	crmClient, err := newCRMClient(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	d := &daemon{cfg: cfg, store: store, hub: events.NewHub(), voice: voice.NewManager(store)}
	if cfg.Voice.ProfileFile != "" {
		d.voice.SetBase(prof.Voice)
	}

	registry := newRegistry(cfg, store)
	if registry.Len() == 0 {
		printWarning("No platforms configured; set credentials with `replyd config set`")
	}

	pol := policy.New(cfg.Policy.AutoApproveConfidence, cfg.Policy.Workflows())
	proc := pipeline.NewProcessor(store,
		classify.NewClassifier(eng, classify.Rules{Spam: prof.Keywords.Spam, Lead: prof.Keywords.Lead}),
		classify.NewSentimentAnalyzer(eng),
		reply.NewGenerator(eng, d.voice, triggers.NewDetector(prof.Triggers), pol),
		registry, d.hub)
	d.sched = scheduler.New(schedulerConfig(cfg), store, proc, registry, pol, d.hub)
	d.ops = operator.New(store, proc, d.sched, d.hub)
	d.worker = crm.NewWorker(store, crm.NewEscalator(crmClient, store), 500*time.Millisecond)

	router := chi.NewRouter()
	router.Mount("/", api.NewAppHandler(api.AppDeps{
		Operator: d.ops,
		Runner:   d.sched,
		Voice:    d.voice,
		Content:  content.NewGenerator(eng, d.voice, store),
		Store:    store,
		Hub:      d.hub,
		Token:    token,
	}))
	d.handler = router

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		if d.telegram, err = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, d.ops, store, d.hub); err != nil {
			slog.Error("telegram notifications disabled", "error", err)
		}
	}
	return d, nil
}

// serve runs the HTTP listener and the background loops until ctx ends or
// one of them fails.
func (d *daemon) serve(ctx context.Context, withMCP bool) error {
	addr := "127.0.0.1:" + strconv.Itoa(d.cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: d.handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	loop := func(run func(context.Context)) {
		g.Go(func() error { run(gctx); return nil })
	}
	loop(d.worker.Run)
	loop(d.sched.Run)
	if d.telegram != nil {
		loop(d.telegram.Run)
		slog.Info("telegram notifications enabled")
	}
	if withMCP {
		stdio := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Operator: d.ops, Voice: d.voice}, version))
		g.Go(func() error {
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mcp stdio", "error", err)
			}
			return nil
		})
		slog.Info("serving MCP on stdio")
	}

	g.Go(func() error {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// commentLookup resolves stored comments for adapters that need more than
// the comment ID to post.
type commentLookup interface {
	GetComment(key domain.CommentKey) (domain.Comment, error)
}

// newRegistry registers an adapter for every platform whose credentials are
// configured. comments may be nil.
func newRegistry(cfg config.Config, comments commentLookup) *platform.Registry {
	r := platform.NewRegistry()
	if cfg.YouTube.ChannelID != "" && (cfg.YouTube.APIKey != "" || cfg.YouTube.OAuthToken != "") {
		yc := youtube.Config{
			ChannelID:  cfg.YouTube.ChannelID,
			APIKey:     cfg.YouTube.APIKey,
			OAuthToken: cfg.YouTube.OAuthToken,
		}
		if comments != nil {
			yc.Parents = func(id string) (string, error) {
				c, err := comments.GetComment(domain.CommentKey{Platform: domain.YouTube, CommentID: id})
				return c.ParentID, err
			}
		}
		r.Register(youtube.New(yc, nil))
	}
	if cfg.Facebook.PageID != "" && cfg.Facebook.AccessToken != "" {
		r.Register(facebook.New(facebook.Config{
			PageID:      cfg.Facebook.PageID,
			AccessToken: cfg.Facebook.AccessToken,
		}, nil))
	}
	if cfg.Instagram.AccountID != "" && cfg.Instagram.AccessToken != "" {
		r.Register(instagram.New(instagram.Config{
			AccountID:   cfg.Instagram.AccountID,
			AccessToken: cfg.Instagram.AccessToken,
		}, nil))
	}
	if cfg.LinkedIn.OrganizationID != "" && cfg.LinkedIn.AccessToken != "" {
		r.Register(linkedin.New(linkedin.Config{
			OrganizationID: cfg.LinkedIn.OrganizationID,
			AccessToken:    cfg.LinkedIn.AccessToken,
		}, nil))
	}
	if cfg.Twitter.UserID != "" && cfg.Twitter.BearerToken != "" {
		r.Register(twitter.New(twitter.Config{
			UserID:      cfg.Twitter.UserID,
			BearerToken: cfg.Twitter.BearerToken,
			UserToken:   cfg.Twitter.UserToken,
		}, nil))
	}
	return r
}

// newCRMClient returns the HighLevel client when an API key is configured
// and a logging stand-in otherwise.
func newCRMClient(cfg config.Config) (crm.Client, error) {
	if cfg.CRM.APIKey == "" {
		slog.Warn("crm.api_key not set, escalations are logged only")
		return crm.NewLogClient(), nil
	}
	workflows, err := crm.ParseWorkflowIDs(cfg.CRM.WorkflowIDs)
	if err != nil {
		return nil, fmt.Errorf("parsing crm.workflow_ids: %w", err)
	}
	return crm.NewHighLevel(crm.HighLevelConfig{
		BaseURL:     cfg.CRM.BaseURL,
		APIKey:      cfg.CRM.APIKey,
		LocationID:  cfg.CRM.LocationID,
		WorkflowIDs: workflows,
	}, nil), nil
}

func schedulerConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{
		FetchInterval:   cfg.Scheduler.FetchInterval,
		SweepInterval:   cfg.Scheduler.SweepInterval,
		Lookback:        cfg.Scheduler.Lookback,
		Overlap:         cfg.Scheduler.Overlap,
		Parallel:        cfg.Scheduler.Parallel,
		ErrorThreshold:  cfg.Scheduler.ErrorThreshold,
		DisableBase:     cfg.Scheduler.DisableBase,
		RestartDelay:    cfg.Scheduler.RestartDelay,
		MaxPostAttempts: cfg.Scheduler.MaxPostAttempts,
	}
}

