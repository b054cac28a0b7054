package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"email-login/config"
	"email-login/delivery"
	"email-login/loginform"
)

const shutdownTimeout = 10 * time.Second

// App holds the application's dependencies and state, like the router and
// the login backend.
type App struct {
	Config config.Config
	Router http.Handler

	logger        *zap.Logger
	sender        delivery.LoginSender
	verifier      delivery.TokenVerifier
	publisher     delivery.KeyPublisher
	limiter       Limiter
	redis         *redis.Client
	formTransport loginform.Transport
	proxies       []netip.Prefix
}

// New creates a new App instance, configures dependencies, and sets up the router.
// ctx bounds background work such as JWKS refreshes.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		logger:  logger,
		proxies: proxies,
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	switch cfg.LoginBackend {
	case config.BackendKratos:
		a.sender = NewKratosSender(cfg.KratosPublicURL, httpClient, logger)
	case config.BackendMagicLink:
		sender, err := newMagicLinkSender(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.sender = sender
		a.verifier = sender
		a.publisher = sender.verifier
	default:
		return nil, fmt.Errorf("unknown login backend %q", cfg.LoginBackend)
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		a.limiter = NewRedisLimiter(a.redis, cfg.LoginRateLimit, cfg.LoginRateWindow)
	}

	a.formTransport = loginform.NewHTTPTransport(cfg.LoginAPIURL, httpClient)
	a.Router = delivery.NewRouter(a)

	return a, nil
}

func newMagicLinkSender(ctx context.Context, cfg config.Config, logger *zap.Logger) (*MagicLinkSender, error) {
	var (
		keys KeySource
		err  error
	)
	switch {
	case cfg.JWKSURL != "":
		keys, err = NewRemoteKeySource(ctx, cfg.JWKSURL, defaultRefreshInterval)
	case cfg.JWKSFile != "":
		keys, err = NewFileKeySource(cfg.JWKSFile)
	default:
		logger.Warn("no JWKS_URL or JWKS_FILE set, signing login links with a generated key")
		keys, err = NewGeneratedKeySource()
	}
	if err != nil {
		return nil, err
	}

	var mailer Mailer = NewLogMailer(logger)
	if cfg.SMTPAddr != "" {
		mailer = NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	}

	return NewMagicLinkSender(
		NewJWTSigner(keys, logger),
		NewJWTVerifier(keys, cfg.TokenIssuer),
		mailer,
		cfg.PublicURL,
		cfg.TokenIssuer,
		cfg.TokenTTL,
		logger,
	), nil
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down.
func (a *App) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.ListenAddr,
		Handler:           a.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.Config.RequestTimeout,
		WriteTimeout:      2 * a.Config.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	return nil
}

func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

func (a *App) GetLoginSender() delivery.LoginSender {
	return a.sender
}

func (a *App) GetTokenVerifier() (delivery.TokenVerifier, bool) {
	return a.verifier, a.verifier != nil
}

func (a *App) GetKeyPublisher() (delivery.KeyPublisher, bool) {
	return a.publisher, a.publisher != nil
}

func (a *App) GetFormTransport() loginform.Transport {
	return a.formTransport
}

func (a *App) GetTrustedProxies() []netip.Prefix {
	return a.proxies
}
