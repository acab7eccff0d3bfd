package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bmayton/chainpost/pkg/hypermedia"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// Debug forces a colorized debug-level logger regardless of AppEnv and LogLevel.
	Debug bool

	SiteURL     string
	Username    string
	Password    string
	Token       string
	HTTPTimeout time.Duration
	CacheSize   int

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	debug := false
	if s := strings.TrimSpace(os.Getenv("CHAIN_DEBUG")); s != "" {
		debug, err = strconv.ParseBool(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CHAIN_DEBUG %q: %w", s, err)
		}
	}

	siteURL := strings.TrimSpace(os.Getenv("CHAIN_SITE_URL"))
	if siteURL == "" {
		siteURL = "http://localhost:8000/sites/1"
	}

	timeoutStr := strings.TrimSpace(os.Getenv("CHAIN_HTTP_TIMEOUT"))
	if timeoutStr == "" {
		timeoutStr = "10s"
	}
	httpTimeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CHAIN_HTTP_TIMEOUT %q: %w", timeoutStr, err)
	}
	if httpTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid CHAIN_HTTP_TIMEOUT %q: must be positive", timeoutStr)
	}

	cacheSizeStr := strings.TrimSpace(os.Getenv("CHAIN_CACHE_SIZE"))
	if cacheSizeStr == "" {
		cacheSizeStr = "1000"
	}
	cacheSize, err := strconv.Atoi(cacheSizeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CHAIN_CACHE_SIZE %q: %w", cacheSizeStr, err)
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}
	if mqttPort < 1 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d (allowed: 1-65535)", mqttPort)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "chainpost"
	}

	mqttTopic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if mqttTopic == "" {
		mqttTopic = "stations/+/telemetry"
	}

	return Config{
		AppEnv:       appEnv,
		LogLevel:     level,
		HTTPAddr:     httpAddr,
		Debug:        debug,
		SiteURL:      siteURL,
		Username:     os.Getenv("CHAIN_USERNAME"),
		Password:     os.Getenv("CHAIN_PASSWORD"),
		Token:        strings.TrimSpace(os.Getenv("CHAIN_TOKEN")),
		HTTPTimeout:  httpTimeout,
		CacheSize:    cacheSize,
		MQTTBroker:   mqttBroker,
		MQTTPort:     mqttPort,
		MQTTClientID: mqttClientID,
		MQTTTopic:    mqttTopic,
	}, nil
}

// Credentials returns the bearer token when one is set, basic auth when a
// username is set, and nil otherwise.
func (c Config) Credentials() hypermedia.Credentials {
	switch {
	case c.Token != "":
		return hypermedia.BearerToken(c.Token)
	case c.Username != "":
		return hypermedia.BasicAuth{Username: c.Username, Password: c.Password}
	default:
		return nil
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
