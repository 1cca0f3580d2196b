package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/acebook/go-auth"
	"github.com/acebook/go-auth/configfetch"
	"github.com/acebook/go-auth/popup"
	"github.com/acebook/go-auth/provider/identitytoolkit"
	"github.com/acebook/go-auth/provider/memory"
	"github.com/acebook/go-auth/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var addr, provider string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long: `Start the web server: initialize the session mirror against the
configured identity provider and serve the login and secure views.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("provider") {
				cfg.Provider = provider
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, auth.DefaultLogger())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides ACEBOOK_ADDR")
	cmd.Flags().StringVar(&provider, "provider", "", "identity provider (memory|identitytoolkit), overrides ACEBOOK_PROVIDER")

	return cmd
}

// server holds the wired components of a running instance.
type server struct {
	srv      router.Server[*fiber.App]
	app      *fiber.App
	db       *bun.DB
	mirror   *auth.SessionMirror
	selector *auth.ViewSelector
	registry *prometheus.Registry
	logger   auth.Logger
}

func newServer(ctx context.Context, cfg Config, logger auth.Logger) (*server, error) {
	db, err := store.Open(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	activity := store.NewActivityStore(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := auth.NewMetrics(registry)

	broker := popup.NewBroker(1)
	routes := auth.HTTPControllerRoutes{
		Index:    "/",
		Login:    "/login",
		Logout:   "/logout",
		Callback: "/__/auth/handler",
		State:    "/api/state",
		Activity: "/api/activity",
		Call:     "/api/call",
	}

	factory, err := newClientFactory(cfg, broker, store.NewUserStore(db), routes.Callback, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	mirror := auth.NewSessionMirror(newConfigSource(cfg), factory,
		auth.WithMirrorLogger(logger),
		auth.WithMirrorActivitySink(activity),
		auth.WithMirrorDebug(cfg.Debug),
	)
	mirror.Subscribe(metrics)

	selector := auth.NewViewSelector(mirror, logger)

	actionOpts := []auth.ActionOption{
		auth.WithActionLogger(logger),
		auth.WithActionNotifier(auth.NotifierFunc(func(n auth.Notification) {
			logger.Debug("notification %s: %s", n.Level, n.Title)
		})),
		auth.WithActionActivitySink(activity),
	}
	signIn := auth.NewSignInHandler(mirror, append(actionOpts, auth.WithActionTimeout(cfg.PopupTimeout))...)
	signOut := auth.NewSignOutHandler(mirror, actionOpts...)

	var app *fiber.App
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app = router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               auth.PageTitle,
			Views:                 auth.NewViewEngine(),
			PassLocalsToViews:     true,
			DisableStartupMessage: true,
		}))
		return app
	})

	srv.Router().Use(mflash.New(mflash.ConfigDefault))

	auth.RegisterSessionRoutes(srv.Router(), func(c *auth.HTTPController) *auth.HTTPController {
		c.Logger = logger
		c.Selector = selector
		c.SignIn = signIn
		c.SignOut = signOut
		c.Popups = broker
		c.Metrics = metrics
		c.Activity = activity
		c.Routes = &routes
		if cfg.APIURL != "" {
			c.API = auth.NewAPIClient(mirror, auth.WithAPILogger(logger))
			c.APIBaseURL = cfg.APIURL
		}
		return c
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	if initer, ok := srv.(interface{ Init() }); ok {
		initer.Init()
	}

	return &server{
		srv:      srv,
		app:      app,
		db:       db,
		mirror:   mirror,
		selector: selector,
		registry: registry,
		logger:   logger,
	}, nil
}

// mount initializes the session mirror without blocking the listener, the
// initializing view is served meanwhile.
func (s *server) mount(ctx context.Context) {
	go func() {
		if err := s.selector.Mount(ctx); err != nil {
			s.logger.Error("auth service unavailable: %v", err)
		}
	}()
}

// close releases the mirror, which also closes the identity client, and the
// store.
func (s *server) close() {
	s.selector.Unmount()
	s.mirror.Destroy()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing store: %v", err)
	}
}

func runServe(ctx context.Context, cfg Config, logger auth.Logger) error {
	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.close()

	srv.mount(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s with the %s provider", cfg.Addr, cfg.Provider)
		errCh <- srv.srv.Serve(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return srv.app.ShutdownWithTimeout(cfg.ShutdownTimeout)
}

func newConfigSource(cfg Config) auth.ConfigSource {
	if cfg.ConfigURL != "" {
		fetcher := configfetch.New(cfg.ConfigURL)
		fetcher.Timeout = cfg.FetchTimeout
		return fetcher
	}

	values := map[string]string{
		auth.ConfigKeyAPIKey:     "local",
		auth.ConfigKeyAuthDomain: "localhost",
		auth.ConfigKeyTenantID:   cfg.TenantID,
	}
	return auth.ConfigSourceFunc(func(context.Context, ...string) (map[string]string, error) {
		return values, nil
	})
}

func newClientFactory(cfg Config, broker *popup.Broker, persistence identitytoolkit.Persistence, callback string, logger auth.Logger) (auth.ClientFactory, error) {
	switch cfg.Provider {
	case ProviderMemory:
		return memory.NewFactory(memory.WithDefaultUser(&auth.UserIdentity{
			ID:            "local-player",
			Email:         "player@acebook.local",
			EmailVerified: true,
			DisplayName:   "Local Player",
		})), nil
	case ProviderIdentityToolkit:
		return identitytoolkit.NewFactory(identitytoolkit.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL(callback),
			Popup:        broker,
			Persistence:  persistence,
			Logger:       logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
