package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
)

// config is resolved from three layers, later layers winning: environment
// (MCP_PROBE_*), an optional TOML file, then command-line flags.
type config struct {
	Transport        string        `env:"MCP_PROBE_TRANSPORT,default=all"`
	BaseURL          string        `env:"MCP_PROBE_BASE_URL,default=http://localhost:8080"`
	ServerCommand    string        `env:"MCP_PROBE_SERVER_COMMAND,default=./mcp-server"`
	HandshakeTimeout time.Duration `env:"MCP_PROBE_HANDSHAKE_TIMEOUT,default=10s"`
	CallTimeout      time.Duration `env:"MCP_PROBE_CALL_TIMEOUT,default=5s"`
	PollInterval     time.Duration `env:"MCP_PROBE_POLL_INTERVAL,default=100ms"`
	HealthTimeout    time.Duration `env:"MCP_PROBE_HEALTH_TIMEOUT,default=10s"`
	Debug            bool          `env:"MCP_PROBE_DEBUG,default=false"`
}

// fileConfig is the TOML mirror of config; unset fields leave the lower
// layer's value in place.
type fileConfig struct {
	Transport        string `toml:"transport"`
	BaseURL          string `toml:"base_url"`
	ServerCommand    string `toml:"server_command"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	CallTimeout      string `toml:"call_timeout"`
	PollInterval     string `toml:"poll_interval"`
	HealthTimeout    string `toml:"health_timeout"`
	Debug            bool   `toml:"debug"`
}

func loadConfig(args []string) (*config, error) {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	fs := flag.NewFlagSet("mcp-probe", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	transport := fs.String("transport", "", "transport to exercise: stdio, sse, streaminghttp, or all")
	baseURL := fs.String("base-url", "", "base URL of the HTTP server")
	serverCommand := fs.String("server", "", "server command for the stdio transport")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.applyFile(*configPath); err != nil {
			return nil, err
		}
	}

	if *transport != "" {
		cfg.Transport = *transport
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *serverCommand != "" {
		cfg.ServerCommand = *serverCommand
	}
	if *debug {
		cfg.Debug = true
	}

	switch cfg.Transport {
	case "stdio", "sse", "streaminghttp", "all":
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	return &cfg, nil
}

func (c *config) applyFile(path string) error {
	var raw fileConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	if raw.Transport != "" {
		c.Transport = raw.Transport
	}
	if raw.BaseURL != "" {
		c.BaseURL = raw.BaseURL
	}
	if raw.ServerCommand != "" {
		c.ServerCommand = raw.ServerCommand
	}
	if raw.Debug {
		c.Debug = true
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{raw.HandshakeTimeout, &c.HandshakeTimeout},
		{raw.CallTimeout, &c.CallTimeout},
		{raw.PollInterval, &c.PollInterval},
		{raw.HealthTimeout, &c.HealthTimeout},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("load config file: bad duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}

	return nil
}
