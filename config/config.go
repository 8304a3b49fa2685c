package config

import (
	"maps"

	"github.com/embergraph/embergo"
	"github.com/embergraph/embergo/util/conf"
)

type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"log_level"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"log_format"`

	// Instance configures the embedded server instance
	Instance embergo.Options `conf:"instance"`
}

var DefaultConfig = conf.DefaultConfig{
	"log_level":  "info",
	"log_format": "production",
}

var instanceDefaults = conf.DefaultConfig{
	"startup_timeout": "10s",
	"poll_interval":   "100ms",
}

func init() {
	maps.Copy(DefaultConfig, conf.MergeDefaults("instance", instanceDefaults))
}
