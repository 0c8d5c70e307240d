package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ogier/pflag"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into server.Config
// so main.go can validate and map.
type cliConfig struct {
	listenAddr       string
	metricsAddr      string
	logLevel         string
	handshakeTimeout time.Duration
	hookTimeout      time.Duration
	hookConcurrency  int
	hookStdioFormat  string
	webhooks         []string
	showVersion      bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := pflag.NewFlagSet("rtmp-handshaked", pflag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	var webhooks stringSliceFlag

	fs.StringVarP(&cfg.listenAddr, "listen", "l", ":1935", "TCP listen address (e.g. :1935 or 0.0.0.0:1935)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Prometheus /metrics listen address (empty disables)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.handshakeTimeout, "handshake-timeout", 5*time.Second, "Per read/write timeout while handshaking")
	fs.DurationVar(&cfg.hookTimeout, "hook-timeout", 10*time.Second, "Timeout for a single hook execution")
	fs.IntVar(&cfg.hookConcurrency, "hook-concurrency", 10, "Maximum concurrent hook executions")
	fs.StringVar(&cfg.hookStdioFormat, "hook-stdio-format", "", "Print events to stderr: json|env (empty disables)")
	fs.Var(&webhooks, "webhook", "HTTP(S) URL receiving events as JSON (can be specified multiple times)")
	fs.BoolVarP(&cfg.showVersion, "version", "v", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg.webhooks = webhooks

	if cfg.handshakeTimeout <= 0 {
		return nil, fmt.Errorf("handshake-timeout must be positive")
	}
	if cfg.hookTimeout <= 0 {
		return nil, fmt.Errorf("hook-timeout must be positive")
	}
	if cfg.hookConcurrency < 1 {
		return nil, fmt.Errorf("hook-concurrency must be at least 1")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	switch cfg.hookStdioFormat {
	case "", "json", "env":
	default:
		return nil, fmt.Errorf("invalid hook-stdio-format %q", cfg.hookStdioFormat)
	}

	for _, u := range cfg.webhooks {
		if err := validateWebhookURL(u); err != nil {
			return nil, fmt.Errorf("invalid webhook %q: %w", u, err)
		}
	}

	return cfg, nil
}

// stringSliceFlag implements pflag.Value for multiple string values
type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// validateWebhookURL validates an HTTP(S) endpoint URL
func validateWebhookURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("URL must use http:// or https:// scheme, got %q", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}
