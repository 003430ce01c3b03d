package config

import (
	"os"
	"strings"
)

const (
	defaultAPIURL      = "https://localhost:4119/api"
	defaultAPIVersion  = "v1"
	defaultNATSURL     = "nats://localhost:4222"
	defaultSubject     = "ipspatch.events"
	defaultQueueGroup  = "ipspatch-workers"
	defaultHTTPAddr    = ":9090"
	defaultSettings    = "config/ipspatch.yaml"
	envAPIURL          = "DS_API_URL"
	envAPIKey          = "DS_API_KEY"
	envAPIVersion      = "DS_API_VERSION"
	envTLSInsecure     = "DS_TLS_INSECURE"
	envNATSURL         = "NATS_URL"
	envSubject         = "IPSPATCH_SUBJECT"
	envQueueGroup      = "IPSPATCH_QUEUE"
	envResultSubject   = "IPSPATCH_RESULT_SUBJECT"
	envHTTPAddr        = "IPSPATCH_HTTP_ADDR"
	envSettingsPath    = "IPSPATCH_SETTINGS_PATH"
	envTraceStdout     = "IPSPATCH_TRACE_STDOUT"
	envDefaultLogLevel = "IPSPATCH_LOG_LEVEL"
)

// Config holds runtime configuration for the reconciler surfaces.
type Config struct {
	APIURL        string
	APIKey        string
	APIVersion    string
	TLSInsecure   bool
	NatsURL       string
	Subject       string
	QueueGroup    string
	ResultSubject string
	HTTPAddr      string
	SettingsPath  string
	TraceStdout   bool
	LogLevel      string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	apiURL := os.Getenv(envAPIURL)
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	apiVersion := os.Getenv(envAPIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	natsURL := os.Getenv(envNATSURL)
	if natsURL == "" {
		natsURL = defaultNATSURL
	}
	subject := os.Getenv(envSubject)
	if subject == "" {
		subject = defaultSubject
	}
	queue := os.Getenv(envQueueGroup)
	if queue == "" {
		queue = defaultQueueGroup
	}

	httpAddr := os.Getenv(envHTTPAddr)
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}
	settings := os.Getenv(envSettingsPath)
	if settings == "" {
		settings = defaultSettings
	}
	logLevel := strings.ToUpper(strings.TrimSpace(os.Getenv(envDefaultLogLevel)))
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		APIURL:        apiURL,
		APIKey:        os.Getenv(envAPIKey),
		APIVersion:    apiVersion,
		TLSInsecure:   parseBoolEnv(envTLSInsecure),
		NatsURL:       natsURL,
		Subject:       subject,
		QueueGroup:    queue,
		ResultSubject: os.Getenv(envResultSubject),
		HTTPAddr:      httpAddr,
		SettingsPath:  settings,
		TraceStdout:   parseBoolEnv(envTraceStdout),
		LogLevel:      logLevel,
	}
}

func parseBoolEnv(key string) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
