package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/auth"
	"github.com/wolfeidau/grc/internal/invitation"
	"github.com/wolfeidau/grc/internal/logger"
	"github.com/wolfeidau/grc/internal/login"
	"github.com/wolfeidau/grc/internal/notify"
	"github.com/wolfeidau/grc/internal/server"
	"github.com/wolfeidau/grc/internal/telemetry"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type ServeCmd struct {
	// Server configuration
	Listen  string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"GRC_LISTEN"`
	Cert    string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"GRC_TLS_CERT"`
	Key     string `help:"path to TLS key file" default:"" env:"GRC_TLS_KEY"`
	BaseURL string `help:"public origin used as token issuer and in invitation links" default:"http://localhost:8080" env:"GRC_BASE_URL"`

	CORSOrigins []string `help:"trusted origins for browser clients" default:"http://localhost:8080" env:"GRC_CORS_ORIGINS"`

	// Sessions and tokens
	SessionSecret  string        `help:"secret for signing session cookies (at least 32 bytes)" env:"GRC_SESSION_SECRET"`
	SessionTTL     time.Duration `help:"session TTL" default:"168h" env:"GRC_SESSION_TTL"`
	InsecureCookie bool          `help:"drop the Secure attribute from session cookies (plain HTTP development)" default:"false" env:"GRC_INSECURE_COOKIE"`
	SigningKey     string        `help:"path to the ES256 PEM key for access tokens, an ephemeral key is generated when empty" default:"" env:"GRC_SIGNING_KEY_FILE" type:"path"`
	TokenTTL       time.Duration `help:"access token TTL" default:"1h" env:"GRC_TOKEN_TTL"`

	// Invitations
	URLSecret string `help:"secret for signing invitation URLs (at least 32 bytes)" env:"GRC_URL_SECRET"`

	// GitHub OAuth configuration
	GithubClientID     string `help:"GitHub client ID, GitHub login is disabled when empty" default:"" env:"GRC_GITHUB_CLIENT_ID"`
	GithubClientSecret string `help:"GitHub client secret" default:"" env:"GRC_GITHUB_CLIENT_SECRET"`
	GithubCallbackURL  string `help:"GitHub callback URL" default:"" env:"GRC_GITHUB_CALLBACK_URL"`

	Notify  NotifyFlags `embed:"" prefix:"notify-"`
	Tracing bool        `help:"enable tracing and metrics export" default:"false" env:"GRC_TRACING"`

	Store StoreFlags `embed:""`
}

// NotifyFlags configures invitation delivery. Without brokers invitations are logged.
type NotifyFlags struct {
	KafkaBrokers []string `help:"Kafka brokers for invitation notifications" env:"GRC_NOTIFY_KAFKA_BROKERS"`
	KafkaTopic   string   `help:"Kafka topic for invitation notifications" default:"grc.invitations" env:"GRC_NOTIFY_KAFKA_TOPIC"`
	Workers      int      `help:"concurrent deliveries" default:"8" env:"GRC_NOTIFY_WORKERS"`
	MaxTries     uint     `help:"delivery attempts per notification" default:"5" env:"GRC_NOTIFY_MAX_TRIES"`
}

func (n *NotifyFlags) sink() (notify.Sink, func() error) {
	if len(n.KafkaBrokers) == 0 {
		return notify.LogSink{}, func() error { return nil }
	}
	sink := notify.NewKafkaSink(n.KafkaBrokers, n.KafkaTopic)
	return sink, sink.Close
}

func (c *ServeCmd) Validate() error {
	if len(c.SessionSecret) < 32 {
		return errors.New("session secret must be at least 32 bytes (--session-secret or GRC_SESSION_SECRET)")
	}
	if len(c.URLSecret) < invitation.MinSecretLength {
		return fmt.Errorf("URL signing secret must be at least %d bytes (--url-secret or GRC_URL_SECRET)", invitation.MinSecretLength)
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS requires both --cert and --key")
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	lg := logger.Setup(globals.Debug)
	log.Logger = lg

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	interceptors := []connect.Interceptor{logger.NewConnectRequests(lg)}
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "grc-server",
			Version:     globals.Version,
			SampleRatio: 1,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
		otelInterceptor, err := otelconnect.NewInterceptor()
		if err != nil {
			return fmt.Errorf("failed to create OTEL interceptor: %w", err)
		}
		interceptors = append(interceptors, otelInterceptor)
	}

	stores, closeStores, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	deps := newCore(stores)

	keys, err := c.keys()
	if err != nil {
		return err
	}
	tokens := auth.NewTokenIssuer(keys, c.BaseURL, c.TokenTTL)

	sessions, err := login.NewSessions(stores.Sessions, []byte(c.SessionSecret), c.SessionTTL, c.InsecureCookie)
	if err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}

	var gh *login.Github
	if c.GithubClientID != "" {
		gh, err = login.NewGithub(c.GithubClientID, c.GithubClientSecret, c.GithubCallbackURL, stores.Users, sessions)
		if err != nil {
			return fmt.Errorf("failed to initialize GitHub OAuth: %w", err)
		}
		log.Info().Str("callback", c.GithubCallbackURL).Msg("GitHub login enabled")
	}

	signer, err := invitation.NewURLSigner([]byte(c.URLSecret))
	if err != nil {
		return err
	}

	sink, closeSink := c.Notify.sink()
	defer func() {
		if err := closeSink(); err != nil {
			log.Error().Err(err).Msg("Failed to close notification sink")
		}
	}()
	dispatcher, err := notify.NewDispatcher(sink, notify.DispatcherConfig{
		Workers:  c.Notify.Workers,
		MaxTries: c.Notify.MaxTries,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(10 * time.Second); err != nil {
			log.Warn().Err(err).Msg("Notifications still in flight at shutdown")
		}
	}()

	srv := server.New(server.Config{
		Stores:    stores,
		Directory: deps.directory,
		Invitations: invitation.NewService(invitation.Config{
			Stores:    stores,
			Directory: deps.directory,
			Gate:      deps.gate,
			Recorder:  deps.recorder,
			Signer:    signer,
			Notifier:  dispatcher,
			BaseURL:   c.BaseURL,
		}),
		Gate:          deps.gate,
		Recorder:      deps.recorder,
		Authenticator: auth.NewAuthenticator(tokens, sessions, stores.Sessions),
		Tokens:        tokens,
		Keys:          keys,
		Sessions:      sessions,
		Passwords:     login.NewPasswords(stores.Users, sessions),
		Github:        gh,
		Issuer:        c.BaseURL,
		CORSOrigins:   c.CORSOrigins,
		Interceptors:  interceptors,
		Logger:        lg,
	})

	handler, err := srv.Handler()
	if err != nil {
		return fmt.Errorf("failed to build handler: %w", err)
	}

	if c.Cert == "" {
		// gRPC clients of the reporting service need HTTP/2 without TLS
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	httpServer := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		if c.Cert != "" {
			log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}

func (c *ServeCmd) keys() (*auth.KeyManager, error) {
	if c.SigningKey == "" {
		log.Warn().Msg("No signing key configured, access tokens will not survive a restart")
		return auth.NewKeyManager()
	}

	pemBytes, err := os.ReadFile(c.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	keys, err := auth.LoadKeyManager(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	log.Info().Str("kid", keys.Kid()).Msg("Loaded token signing key")
	return keys, nil
}
