package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName      string `json:"app_name"`
	ListenIP     string `json:"listen_ip"`
	ListenPort   int    `json:"listen_port"`
	SessionKey   string `json:"session_key"`
	DBPath       string `json:"db_path"`
	LogLevel     string `json:"log_level"`
	ResetOnStart bool   `json:"reset_on_start"` // destructive, demo/test fixture only

	// SecureCookies marks session and CSRF cookies Secure. Enable whenever
	// the app is served over HTTPS; the port number says nothing about that.
	SecureCookies bool `json:"secure_cookies"`

	// AdminPassword is the bootstrap admin credential used at first seed.
	// It is never written to the config file; set SHELFMARK_ADMIN_PASSWORD.
	AdminPassword string `json:"-"`
}

var AppConfig Config

func LoadConfig(path string) error {
	// A .env file is optional; real env vars win either way.
	_ = godotenv.Load()

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&AppConfig); err != nil {
		return err
	}

	// Override with environment variables if present
	if envKey := os.Getenv("SHELFMARK_SESSION_KEY"); envKey != "" {
		AppConfig.SessionKey = envKey
	}
	if envPath := os.Getenv("SHELFMARK_DB_PATH"); envPath != "" {
		AppConfig.DBPath = envPath
	}
	if envPort := os.Getenv("SHELFMARK_LISTEN_PORT"); envPort != "" {
		if port, err := strconv.Atoi(envPort); err == nil {
			AppConfig.ListenPort = port
		}
	}
	AppConfig.AdminPassword = os.Getenv("SHELFMARK_ADMIN_PASSWORD")

	if AppConfig.DBPath == "" {
		AppConfig.DBPath = "./shelfmark.db"
	}
	if AppConfig.LogLevel == "" {
		AppConfig.LogLevel = "info"
	}

	// If no key is provided or it's the placeholder, generate a secure random one
	if AppConfig.SessionKey == "" || AppConfig.SessionKey == "CHANGE_ME_IN_PRODUCTION" {
		log.Println("WARNING: No session key configured. Generating a random key. Sessions will be invalidated on restart.")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return err
		}
		AppConfig.SessionKey = hex.EncodeToString(randomKey)
	}

	return nil
}
