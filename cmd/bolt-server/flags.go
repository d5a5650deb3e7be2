package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag/file values before translation into
// server.Config, adapted from cmd/rtmp-server/flags.go's cliConfig
// (listen/log-level/chunk-size kept; RTMP recording/relay/hook-script flags
// dropped — Bolt has no media plane to record or relay — replaced with
// max-inflight and an optional -config YAML file for static configuration).
type cliConfig struct {
	listenAddr    string
	metricsAddr   string
	logLevel      string
	chunkCapacity uint
	maxInflight   uint
	configFile    string
	showVersion   bool
}

// fileConfig is the shape of an optional -config YAML file. A flag set to a
// non-default value takes precedence over the file value so an operator can
// override one setting at the command line without editing the file.
type fileConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	MetricsAddr   string `yaml:"metrics_addr"`
	LogLevel      string `yaml:"log_level"`
	ChunkCapacity uint   `yaml:"chunk_capacity"`
	MaxInflight   uint   `yaml:"max_inflight"`
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("bolt-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.listenAddr, "listen", ":7687", "TCP listen address (e.g. :7687 or 0.0.0.0:7687)")
	fs.StringVar(&cfg.metricsAddr, "metrics-listen", "", "Optional HTTP address to serve /metrics on (disabled if empty)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.UintVar(&cfg.chunkCapacity, "chunk-capacity", 8192, "Outbound chunk capacity in bytes")
	fs.UintVar(&cfg.maxInflight, "max-inflight", 1024, "Max pipelined RUN requests a session admits (informational; enforced client-side)")
	fs.StringVar(&cfg.configFile, "config", "", "Optional YAML config file; flags override its values")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.configFile != "" {
		if err := applyFileConfig(cfg, cfg.configFile); err != nil {
			return nil, err
		}
	}

	if cfg.chunkCapacity < 4 || cfg.chunkCapacity > 65536 {
		return nil, errors.New("chunk-capacity must be between 4 and 65536")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	return cfg, nil
}

// applyFileConfig fills in, from path, every field that still holds its flag
// default. A flag explicitly set to its default value cannot be told apart
// from an unset one, so the file value replaces it.
func applyFileConfig(cfg *cliConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if cfg.listenAddr == ":7687" && fc.ListenAddr != "" {
		cfg.listenAddr = fc.ListenAddr
	}
	if cfg.metricsAddr == "" && fc.MetricsAddr != "" {
		cfg.metricsAddr = fc.MetricsAddr
	}
	if cfg.logLevel == "info" && fc.LogLevel != "" {
		cfg.logLevel = fc.LogLevel
	}
	if cfg.chunkCapacity == 8192 && fc.ChunkCapacity != 0 {
		cfg.chunkCapacity = fc.ChunkCapacity
	}
	if cfg.maxInflight == 1024 && fc.MaxInflight != 0 {
		cfg.maxInflight = fc.MaxInflight
	}
	return nil
}
