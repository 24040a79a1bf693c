package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/oauthgate/internal/auth"
	"github.com/MGallo-Code/oauthgate/internal/config"
	"github.com/MGallo-Code/oauthgate/internal/metrics"
	"github.com/MGallo-Code/oauthgate/internal/oauth"
	"github.com/MGallo-Code/oauthgate/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// sessionCleanupInterval is how often expired Postgres sessions are purged.
const sessionCleanupInterval = time.Hour

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (store pools, cleanup goroutine) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// Cancelled when run() returns; stops the session cleanup goroutine.
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()

	deps := map[string]auth.HealthChecker{}
	var persistence auth.Persistence

	switch cfg.Persistence {
	case config.PersistenceRedis:
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()

		rs := store.NewRedisStore(rdb)
		deps["redis"] = rs
		persistence = auth.NewSessionPersistence(rs, cfg.CookiePrefix, cfg.CookieSecure, cfg.TokenTTL)

	case config.PersistencePostgres:
		ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to set up postgres store: %w", err)
		}
		defer ps.Close()

		migrationsFS, err := fs.Sub(migrationsDir, "migrations")
		if err != nil {
			return fmt.Errorf("failed to access embedded migrations: %w", err)
		}
		if err := ps.Migrate(ctx, migrationsFS); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		deps["postgres"] = ps
		persistence = auth.NewSessionPersistence(ps, cfg.CookiePrefix, cfg.CookieSecure, cfg.TokenTTL)
		go cleanupSessions(cleanupCtx, ps)

	default:
		persistence = auth.NewCookiePersistence(cfg.CookiePrefix, auth.DeriveCookieKey(cfg.CookieSecret), cfg.CookieSecure, cfg.TokenTTL)
	}

	provider := oauth.ProviderConfig{
		AuthBaseURL: cfg.AuthBaseURL,
		AuthPath:    cfg.AuthPath,
		TokenPath:   cfg.TokenPath,
		Credentials: oauth.Credentials{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret},
		APIBaseURL:  cfg.APIBaseURL,
	}

	exchanger, err := newExchanger(ctx, cfg, provider)
	if err != nil {
		return fmt.Errorf("failed to set up token exchange: %w", err)
	}

	upstream, err := newUpstreamProxy(cfg.APIBaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up upstream proxy: %w", err)
	}

	callbackPath, err := pathOf(cfg.CallbackURL)
	if err != nil {
		return fmt.Errorf("invalid OAUTH_CALLBACK_URL: %w", err)
	}

	// Own registry so tests can build routers repeatedly without duplicate registration.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gate := &auth.Gate{
		Provider:     provider,
		CallbackURL:  cfg.CallbackURL,
		Scopes:       cfg.Scopes,
		GenerateCSRF: oauth.NewCSRFGenerator(),
		Exchanger:    exchanger,
		Persistence:  persistence,
		Metrics:      metrics.New(reg),
		BindNonce:    cfg.Nonce,
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	router := buildRouter(gate, callbackPath, upstream, auth.HealthHandler(deps), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("oauthgate listening",
			"addr", ln.Addr().String(),
			"persistence", cfg.Persistence,
			"callback_path", callbackPath,
			"upstream", cfg.APIBaseURL,
		)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// server.Shutdown stops accepting new conns, then waits for in-flight
	// requests to finish or the 30s timeout to hit.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// adminPrefix holds the gate's own endpoints so upstream paths like /health stay reachable.
const adminPrefix = "/_gate"

// buildRouter wires all routes and middleware.
// Called from run() and smoke tests.
func buildRouter(gate *auth.Gate, callbackPath string, upstream, health, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route(adminPrefix, func(r chi.Router) {
		r.Method(http.MethodGet, "/health", health)
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	})
	r.Get(callbackPath, gate.Callback)

	// Everything else is protected and forwarded upstream once a token exists.
	r.Handle("/*", gate.AuthFilter(upstream))

	return r
}

// newExchanger picks the token exchange client for cfg.
// Exchange calls are bounded by ExchangeTimeout.
func newExchanger(ctx context.Context, cfg *config.Config, provider oauth.ProviderConfig) (oauth.TokenExchanger, error) {
	client := &http.Client{Timeout: cfg.ExchangeTimeout}

	if cfg.TokenResponse == config.TokenResponseRaw {
		return &oauth.HTTPExchanger{Config: provider, RedirectURL: cfg.CallbackURL, Client: client}, nil
	}

	ex := oauth.NewOAuth2Exchanger(provider, cfg.CallbackURL, cfg.Scopes, client)
	if cfg.OIDCIssuer == "" {
		return ex, nil
	}
	// Discovery is bounded so an unreachable issuer fails startup quickly.
	discoveryCtx, cancel := context.WithTimeout(ctx, cfg.ExchangeTimeout)
	defer cancel()
	return oauth.NewOIDCExchanger(discoveryCtx, cfg.OIDCIssuer, ex)
}

// newUpstreamProxy forwards gated requests to apiBaseURL with the session's
// access token as a bearer credential. Client-sent Authorization headers are replaced.
func newUpstreamProxy(apiBaseURL string) (http.Handler, error) {
	target, err := url.Parse(apiBaseURL)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("API_BASE_URL must be absolute, got %q", apiBaseURL)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Authorization")
			if token, ok := auth.AccessTokenFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set("Authorization", "Bearer "+string(token))
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("upstream request failed", "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}, nil
}

// pathOf returns the path component of an absolute URL, "/" if empty.
func pathOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Path == "" {
		return "/", nil
	}
	return u.Path, nil
}

// cleanupSessions purges expired Postgres sessions every sessionCleanupInterval until ctx is done.
// Redis expires keys on its own; cookie persistence has nothing server-side.
func cleanupSessions(ctx context.Context, ps *store.PostgresStore) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := ps.CleanupExpiredSessions(ctx, 0)
			if err != nil {
				slog.Warn("session cleanup failed", "error", err)
			} else {
				slog.Info("session cleanup complete", "deleted", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
