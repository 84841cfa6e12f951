// Personal Drive Server
//
// A single-admin web file manager:
// - browse, upload, download, create folders and delete inside one storage root
// - signed cookie sessions for the configured admin identity
// - Prometheus metrics & structured logging (zap)
package main

import (
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GFrasson/personal-drive/internal/api"
	"github.com/GFrasson/personal-drive/internal/auth"
	"github.com/GFrasson/personal-drive/internal/config"
	"github.com/GFrasson/personal-drive/internal/logging"
	"github.com/GFrasson/personal-drive/internal/metrics"
	"github.com/GFrasson/personal-drive/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Personal Drive Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	if cfg.AdminPasswordHash == "" && cfg.AdminPassword == "admin" {
		logging.Warn("using default admin credentials (admin/admin)")
		logging.Warn("** set ADMIN_USER/ADMIN_PASS or ADMIN_PASS_HASH! **")
	}

	// Initialize the storage root
	store, err := storage.New(cfg.StorageRoot)
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}
	logging.Info("storage root ready", zap.String("root", store.Root()))

	// Initialize the session gate
	authGate := auth.New(cfg)

	// Create API server
	srv := api.NewServer(store, authGate, cfg)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		httpServer.Close()
		metricsServer.Close()
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}
