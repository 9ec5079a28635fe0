// Command introspectserver opens a recorded archive (or a live session)
// and exposes it over the read-only HTTP introspection API: /healthz,
// /schema, and /session. It optionally records connection lifecycle
// events to an audit log, indexes a directory of archives into a local
// catalog, and archives parsed session metadata to Postgres. It shuts
// down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apexdata/pitwall"
	"github.com/apexdata/pitwall/internal/audit"
	"github.com/apexdata/pitwall/internal/catalog"
	"github.com/apexdata/pitwall/internal/config"
	"github.com/apexdata/pitwall/internal/introspect"
	"github.com/apexdata/pitwall/internal/metatext"
	"github.com/apexdata/pitwall/internal/sessionstore"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file; when set, it replaces the flags below entirely")
	archivePath := flag.String("archive", "", "path to a recorded .ibt archive file; omit to attach to a live session")
	httpAddr := flag.String("http-addr", "127.0.0.1:8080", "HTTP listener address")
	jwtPubKeyPath := flag.String("jwt-pubkey", "", "path to a PEM RSA public key for JWT validation (optional)")
	flag.Parse()

	cfg := &config.Config{ArchivePath: *archivePath, IntrospectAddr: *httpAddr, JWTPublicKeyPath: *jwtPubKeyPath}
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "introspectserver: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	var pubKey *rsa.PublicKey
	if cfg.JWTPublicKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = jwt.ParseRSAPublicKeyFromPEM(pemBytes)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("jwt_public_key_path not configured; /schema and /session are unauthenticated (dev mode)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var connOpts []pitwall.Option
	connOpts = append(connOpts, pitwall.WithLogger(logger))

	if cfg.AuditLogPath != "" {
		auditLog, err := audit.Open(cfg.AuditLogPath)
		if err != nil {
			logger.Error("failed to open audit log", slog.Any("error", err))
			os.Exit(1)
		}
		defer auditLog.Close()
		connOpts = append(connOpts, pitwall.WithAuditLog(auditLog))
	}

	var conn *pitwall.Connection
	var err error
	if cfg.ArchivePath != "" {
		conn, err = pitwall.Open(ctx, cfg.ArchivePath, connOpts...)
	} else {
		conn, err = pitwall.Connect(ctx, connOpts...)
	}
	if err != nil {
		logger.Error("failed to open connection", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	if cfg.Catalog.Dir != "" {
		go scanCatalog(ctx, cfg.Catalog.DBPath, cfg.Catalog.Dir, logger)
	}

	if cfg.SessionStore.DSN != "" {
		go archiveSessionOnceAvailable(ctx, conn, cfg.SessionStore.DSN, logger)
	}

	router := introspect.NewRouter(introspect.NewServer(conn), pubKey)

	httpServer := &http.Server{
		Addr:         cfg.IntrospectAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("introspection server listening", slog.String("addr", cfg.IntrospectAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("introspectserver exited cleanly")
}

// scanCatalog indexes every .ibt file directly under dir into the
// catalog database at dbPath. It runs once at startup; re-run the
// binary (or add a cron-driven rescan) to pick up new recordings.
func scanCatalog(ctx context.Context, dbPath, dir string, logger *slog.Logger) {
	cat, err := catalog.Open(dbPath)
	if err != nil {
		logger.Error("failed to open catalog", slog.Any("error", err))
		return
	}
	defer cat.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("failed to read catalog directory", slog.String("dir", dir), slog.Any("error", err))
		return
	}

	parser := metatext.NewParser()
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".ibt" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rec, err := cat.ScanFile(ctx, path, parser)
		if err != nil {
			logger.Warn("failed to scan archive", slog.String("path", path), slog.Any("error", err))
			continue
		}
		logger.Info("catalog indexed archive",
			slog.String("path", path),
			slog.String("track", rec.TrackName),
			slog.Int("frames", rec.FrameCount),
		)
	}
}

// archiveSessionOnceAvailable waits for conn's first decoded session
// metadata and saves it to the session store, so a catalog of recorded
// sessions accumulates across multiple introspectserver runs.
func archiveSessionOnceAvailable(ctx context.Context, conn *pitwall.Connection, dsn string, logger *slog.Logger) {
	store, err := sessionstore.New(ctx, dsn)
	if err != nil {
		logger.Error("failed to open session store", slog.Any("error", err))
		return
	}
	defer store.Close()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tree := conn.Session()
			if tree == nil {
				continue
			}
			if _, err := store.Save(ctx, tree, time.Now().UTC()); err != nil {
				logger.Warn("failed to save session record", slog.Any("error", err))
			}
			return
		}
	}
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
