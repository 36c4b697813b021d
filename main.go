package main

import (
	"crypto/sha256"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"

	"shelfmark/auth"
	"shelfmark/config"
	"shelfmark/db"
	"shelfmark/handlers"
	"shelfmark/i18n"
	"shelfmark/library"
	"shelfmark/logger"
)

func main() {
	if err := config.LoadConfig("config.json"); err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	if err := logger.Initialize(config.AppConfig.LogLevel); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
	defer logger.Log.Sync()

	if err := i18n.Load(); err != nil {
		log.Fatalf("Error loading translations: %v", err)
	}

	database, err := db.Open(config.AppConfig.DBPath)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer database.Close()

	if config.AppConfig.ResetOnStart {
		logger.Log.Warnw("reset_on_start is set: dropping all data (demo/test fixture behavior)")
		if err := database.Reset(); err != nil {
			log.Fatalf("Error resetting database: %v", err)
		}
	}

	if err := database.Seed(config.AppConfig.AdminPassword); err != nil {
		log.Fatalf("Error seeding database: %v", err)
	}

	secure := config.AppConfig.SecureCookies
	sessions := auth.NewSessions(config.AppConfig.SessionKey, secure)
	manager := library.NewManager(database)
	h := handlers.New(database, sessions, manager)

	r := chi.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger.Log))
	r.Use(handlers.SecurityHeadersMiddleware)

	// Static files
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	h.Routes(r)

	// CSRF protection over every form route. The key is derived from the
	// session secret so it is always exactly 32 bytes.
	csrfKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "csrf"))
	csrfMiddleware := csrf.Protect(
		csrfKey[:],
		csrf.Secure(secure),
		csrf.Path("/"),
	)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.ListenIP, config.AppConfig.ListenPort)
	logger.Log.Infow("server starting", "addr", addr, "app", config.AppConfig.AppName)

	if err := http.ListenAndServe(addr, csrfMiddleware(r)); err != nil {
		log.Fatal(err)
	}
}
