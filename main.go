package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"skymaintain.app/licensing/handlers"
	"skymaintain.app/licensing/internal/config"
	"skymaintain.app/licensing/internal/keycodec"
	"skymaintain.app/licensing/internal/logger"
	"skymaintain.app/licensing/license"
	"skymaintain.app/licensing/storage"
)

var version = "dev"

func main() {
	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		version = strings.TrimSpace(string(versionBytes))
	}

	godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
		}); err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
	}

	store, err := storage.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	codec := keycodec.New([]byte(cfg.LicenseSecret))
	engine := license.NewEngine(store, codec)
	server := handlers.NewHTTPServer(engine, store, version, cfg.AllowedOrigins)

	logger.Info("licensing API starting", map[string]interface{}{
		"version": version,
		"port":    cfg.Port,
	})

	log.Fatal(http.ListenAndServe(":"+cfg.Port, server))
}
