package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandras/huddle/internal/api"
	"github.com/bhandras/huddle/internal/config"
	"github.com/bhandras/huddle/internal/crypto"
	"github.com/bhandras/huddle/internal/database"
	"github.com/bhandras/huddle/internal/models"
	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/internal/websocket"
	"github.com/bhandras/huddle/shared/logger"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		addr   = flag.String("addr", "", "listen address (overrides PORT)")
		dbPath = flag.String("db", "", "SQLite database path (overrides DATABASE_PATH)")
		debug  = flag.Bool("debug", false, "enable debug logging and console output")
	)
	flag.Parse()

	var overrides config.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			overrides.Addr = addr
		case "db":
			overrides.DatabasePath = dbPath
		case "debug":
			overrides.Debug = debug
		}
	})

	// Load configuration
	cfg, err := config.Load(overrides)
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	logger.SetLevel(cfg.LogLevel)
	if cfg.Debug {
		logger.SetConsole(os.Stderr)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Open database
	logger.Infof("Opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	queries := models.New(db.DB)

	// Nobody is connected right after a restart.
	if err := queries.ResetSubjectStatuses(ctx, time.Now().UnixMilli()); err != nil {
		logger.Warnf("Failed to reset presence: %v", err)
	}

	verifier, closeVerifier, err := newVerifier(ctx, cfg)
	if err != nil {
		logger.Errorf("Failed to initialize token verification: %v", err)
		os.Exit(1)
	}
	defer closeVerifier()

	hub := realtime.NewHub(&realtime.SQLStore{Queries: queries}, cfg.TypingTTL)
	go hub.Run(ctx)

	// Initialize Socket.IO server
	logger.Infof("Initializing Socket.IO server...")
	socketIOServer := websocket.NewSocketIOServer(hub, verifier, websocket.Options{
		RateLimit:      cfg.ClientRateLimit,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	router := api.NewRouter(api.RouterConfig{
		DB:             db.DB,
		Hub:            hub,
		Verifier:       verifier,
		SocketIO:       socketIOServer,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Huddle server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Infof("Shutting down...")
	case err, ok := <-errCh:
		if ok {
			logger.Errorf("Server failed: %v", err)
			socketIOServer.Close()
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Release live sockets first so presence is persisted as offline while
	// the database is still open.
	if err := socketIOServer.Close(); err != nil {
		logger.Warnf("Socket.IO close: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP shutdown: %v", err)
	}
	logger.Infof("Server stopped")
}

// newVerifier prefers an external identity provider when one is configured.
func newVerifier(ctx context.Context, cfg *config.Config) (crypto.Verifier, func(), error) {
	if cfg.JWKSURL != "" {
		logger.Infof("Verifying tokens against %s", cfg.JWKSURL)
		v, err := crypto.NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.JWTIssuer)
		if err != nil {
			return nil, nil, err
		}
		return v, v.Close, nil
	}

	logger.Infof("Initializing JWT manager...")
	m, err := crypto.NewJWTManager(cfg.MasterSecret)
	if err != nil {
		return nil, nil, err
	}
	return m, func() {}, nil
}
