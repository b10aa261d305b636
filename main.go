package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PhilHem/go-file-vault/backend/config"
	"github.com/PhilHem/go-file-vault/backend/database"
	"github.com/PhilHem/go-file-vault/backend/files"
	"github.com/PhilHem/go-file-vault/backend/handlers"
	"github.com/PhilHem/go-file-vault/backend/logger"
	"github.com/PhilHem/go-file-vault/backend/mailer"
	"github.com/PhilHem/go-file-vault/backend/middleware"
	"github.com/PhilHem/go-file-vault/backend/recovery"
	"github.com/PhilHem/go-file-vault/backend/storage"
	"github.com/PhilHem/go-file-vault/backend/store"
)

// formOverhead is the body allowance on top of the upload limit for the
// multipart framing and the other form fields.
const formOverhead = 1 << 20

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.SetDefault(logger.New(cfg.Log, os.Stdout))

	sessionStore, err := handlers.NewSessionStore(cfg.Session, cfg.TLS.Enabled)
	if err != nil {
		log.Fatal("Failed to init session:", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to init database:", err)
	}

	provider, err := storage.New(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatal("Failed to init storage:", err)
	}

	users := store.NewUsers(db)
	fileService := files.NewService(store.NewFiles(db), provider, cfg.Storage.Folder)
	recoveryService := recovery.NewService(users, mailer.New(cfg.Mail), cfg.Recovery.OTPTTL)

	h := handlers.New(sessionStore, users, fileService, recoveryService)
	mux := http.NewServeMux()
	h.Mount(mux)

	csrf := middleware.NewCSRFProtection(cfg.Session.Secret, cfg.TLS.Enabled)
	var handler http.Handler = csrf.Protect(mux)
	handler = middleware.MaxBytes(cfg.Storage.MaxUploadSize+formOverhead, handler)
	handler = middleware.SecurityHeaders(handler, storage.MediaOrigin(cfg.Storage))
	handler = middleware.RequestLogger(handler)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server starting", "source", "main", "listen", cfg.Listen, "public_url", cfg.PublicURL,
		"storage", cfg.Storage.Provider, "database", cfg.Database.Driver)
	fmt.Printf("Server running at %s (public: %s)\n", cfg.Listen, cfg.PublicURL)

	errc := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			slog.Info("starting server with TLS", "source", "main")
			errc <- srv.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key)
		} else {
			errc <- srv.ListenAndServe()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	case sig := <-stop:
		slog.Info("shutting down", "source", "main", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown failed", "source", "main", "error", err.Error())
		}
	}
}
