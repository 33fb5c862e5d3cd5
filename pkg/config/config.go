/*
2025 © Logset
*/

// Package config provides the application configuration.
package config

import (
	"time"
)

// Config defines the searchkit configuration.
type Config struct {
	App     App     `yaml:"app"`
	Backend Backend `yaml:"backend"`
	Search  Search  `yaml:"search"`
}

// App defines a general application configuration.
type App struct {
	Version  string
	Debug    bool   `yaml:"debug" env:"SEARCHKIT_APP_DEBUG"`
	LogLevel string `yaml:"logLevel" env:"SEARCHKIT_APP_LOG_LEVEL" env-default:"info"`
}

// Backend describes the remote log-search service.
type Backend struct {
	URL              string        `yaml:"url" env:"SEARCHKIT_BACKEND_URL" env-default:"http://localhost:5080"`
	Token            string        `yaml:"token" env:"SEARCHKIT_BACKEND_TOKEN"`
	Org              string        `yaml:"org" env:"SEARCHKIT_BACKEND_ORG" env-default:"default"`
	StreamType       string        `yaml:"streamType" env:"SEARCHKIT_BACKEND_STREAM_TYPE" env-default:"logs"`
	RequestTimeout   time.Duration `env:"SEARCHKIT_BACKEND_REQUEST_TIMEOUT" env-default:"60s"`
	WebSocketEnabled bool          `yaml:"websocketEnabled" env:"SEARCHKIT_BACKEND_WEBSOCKET_ENABLED" env-default:"true"`
	SQLBase64Enabled bool          `yaml:"sqlBase64Enabled" env:"SEARCHKIT_BACKEND_SQL_BASE64_ENABLED"`
	TimestampColumn  string        `yaml:"timestampColumn" env:"SEARCHKIT_BACKEND_TIMESTAMP_COLUMN" env-default:"_timestamp"`
	UseCache         bool          `yaml:"useCache" env:"SEARCHKIT_BACKEND_USE_CACHE" env-default:"true"`
}

// Search holds run-level defaults of the orchestrator.
type Search struct {
	RowsPerPage             int           `yaml:"rowsPerPage" env:"SEARCHKIT_SEARCH_ROWS_PER_PAGE" env-default:"50"`
	MinAutoRefreshInterval  time.Duration `env:"SEARCHKIT_SEARCH_MIN_AUTO_REFRESH_INTERVAL" env-default:"5s"`
	HistogramEnabledDefault bool          `yaml:"histogramEnabled" env:"SEARCHKIT_SEARCH_HISTOGRAM_ENABLED" env-default:"true"`
}
