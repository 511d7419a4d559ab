// Package config provides configuration management for the gateway server.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including listen address, client
// API keys, routing strategy, retry and cooldown tuning, streaming behavior,
// payload rules, and the per-provider credential lists.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/util"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the address the API server binds to.
	Host string `yaml:"host"`

	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// TLS enables HTTPS serving when a certificate pair is configured.
	TLS TLSConfig `yaml:"tls"`

	// APIKeys is a list of keys for authenticating clients to this gateway.
	// An empty list disables client authentication.
	APIKeys []string `yaml:"api-keys"`

	// ProxyURL is the URL of an optional proxy server used for outbound
	// requests when a credential does not define its own.
	ProxyURL string `yaml:"proxy-url"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile redirects logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogDir overrides the directory used for log files.
	LogDir string `yaml:"log-dir"`

	// Routing selects how credentials are picked from the pool.
	Routing RoutingConfig `yaml:"routing"`

	// ConnectTimeout is the upstream dial timeout in seconds.
	ConnectTimeout int `yaml:"connect-timeout"`

	// RequestTimeout is the whole-request upstream timeout in seconds,
	// including the streaming body.
	RequestTimeout int `yaml:"request-timeout"`

	// Streaming tunes SSE keepalive and bootstrap retry behavior.
	Streaming StreamingConfig `yaml:"streaming"`

	// BodyLimitMB caps inbound request bodies, in megabytes.
	BodyLimitMB int `yaml:"body-limit-mb"`

	// Retry tunes the dispatch retry loop and failure cooldowns.
	Retry RetryConfig `yaml:"retry"`

	// Payload holds the default/override/filter rules applied to translated
	// request bodies.
	Payload PayloadConfig `yaml:"payload"`

	// PassthroughHeaders names upstream response headers forwarded to
	// clients (matched lowercased).
	PassthroughHeaders []string `yaml:"passthrough-headers"`

	// ClaudeHeaderDefaults are extra request headers injected when cloaking
	// is active on a Claude-bound request.
	ClaudeHeaderDefaults map[string]string `yaml:"claude-header-defaults"`

	// ForceModelPrefix rejects requests whose model carries no provider
	// prefix when enabled.
	ForceModelPrefix bool `yaml:"force-model-prefix"`

	// NonStreamKeepaliveSecs enables the whitespace keepalive for
	// non-streaming requests when greater than zero.
	NonStreamKeepaliveSecs int `yaml:"non-stream-keepalive-secs"`

	// RateLimit enables inbound request-per-minute limiting.
	RateLimit RateLimitConfig `yaml:"rate-limit"`

	// ModelPrices overrides or extends the built-in USD price table used
	// for cost accounting.
	ModelPrices map[string]ModelPrice `yaml:"model-prices"`

	// ManagementKeys authenticate callers of the management endpoints.
	ManagementKeys []string `yaml:"management-keys"`

	// RequestLogCapacity bounds the in-memory request log ring buffer.
	RequestLogCapacity int `yaml:"request-log-capacity"`

	// ClaudeKeys defines the Anthropic credential pool.
	ClaudeKeys []ProviderKeyEntry `yaml:"claude-api-key"`

	// OpenAIKeys defines the OpenAI credential pool.
	OpenAIKeys []ProviderKeyEntry `yaml:"openai-api-key"`

	// GeminiKeys defines the Google Gemini credential pool.
	GeminiKeys []ProviderKeyEntry `yaml:"gemini-api-key"`

	// OpenAICompat defines credential pools for third-party
	// OpenAI-compatible endpoints.
	OpenAICompat []ProviderKeyEntry `yaml:"openai-compatibility"`

	apiKeySet        map[string]struct{}
	managementKeySet map[string]struct{}
}

// TLSConfig holds the HTTPS serving options.
type TLSConfig struct {
	Enable bool   `yaml:"enable"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
}

// RoutingConfig selects the credential pick strategy.
type RoutingConfig struct {
	// Strategy is either "round-robin" or "fill-first".
	Strategy string `yaml:"strategy"`
}

// Routing strategy names accepted in configuration.
const (
	StrategyRoundRobin = "round-robin"
	StrategyFillFirst  = "fill-first"
)

// StreamingConfig tunes SSE delivery to clients.
type StreamingConfig struct {
	// KeepaliveSeconds is the idle interval after which an SSE comment is
	// emitted to keep intermediaries from timing out.
	KeepaliveSeconds int `yaml:"keepalive-seconds"`

	// BootstrapRetries caps retries performed before the first byte has
	// been delivered to the client.
	BootstrapRetries int `yaml:"bootstrap-retries"`
}

// RetryConfig tunes the dispatch retry loop.
type RetryConfig struct {
	// MaxRetries is the number of attempt rounds per model.
	MaxRetries int `yaml:"max-retries"`

	// MaxBackoffSecs caps the full-jitter sleep between attempt rounds.
	MaxBackoffSecs int `yaml:"max-backoff-secs"`

	// Cooldown429Secs is the credential cooldown after a 429 without a
	// Retry-After header.
	Cooldown429Secs int `yaml:"cooldown-429-secs"`

	// Cooldown5xxSecs is the credential cooldown after an upstream 5xx.
	Cooldown5xxSecs int `yaml:"cooldown-5xx-secs"`

	// CooldownNetworkSecs is the credential cooldown after a network error.
	CooldownNetworkSecs int `yaml:"cooldown-network-secs"`
}

// RateLimitConfig enables inbound RPM limiting.
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	GlobalRPM int  `yaml:"global-rpm"`
	PerKeyRPM int  `yaml:"per-key-rpm"`
}

// ModelPrice is the USD cost per million tokens for one model.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// PayloadConfig groups the three payload rule phases. Defaults set values
// only where missing, overrides always set, filters delete.
type PayloadConfig struct {
	Default  []PayloadRule `yaml:"default"`
	Override []PayloadRule `yaml:"override"`
	Filter   []FilterRule  `yaml:"filter"`
}

// ModelMatcher selects models a payload rule applies to. Name is a glob
// pattern; Protocol, when set, must equal the target format
// (case-insensitive).
type ModelMatcher struct {
	Name     string `yaml:"name"`
	Protocol string `yaml:"protocol"`
}

// PayloadRule sets dotted-path parameters on matched request bodies.
type PayloadRule struct {
	Models []ModelMatcher `yaml:"models"`
	Params map[string]any `yaml:"params"`
}

// FilterRule deletes dotted paths from matched request bodies.
type FilterRule struct {
	Models []ModelMatcher `yaml:"models"`
	Params []string       `yaml:"params"`
}

// CloakConfig controls request cloaking for one Claude credential.
type CloakConfig struct {
	// Mode is "auto" (cloak unless the caller is the official CLI),
	// "always", or "never".
	Mode string `yaml:"mode"`

	// StrictMode replaces the caller's system prompt outright instead of
	// prepending the identity prompt.
	StrictMode bool `yaml:"strict-mode"`

	// SensitiveWords are obfuscated with zero-width spaces in message text.
	SensitiveWords []string `yaml:"sensitive-words"`

	// CacheUserID memoizes the generated user id per API key.
	CacheUserID bool `yaml:"cache-user-id"`
}

// Cloak mode names accepted in configuration.
const (
	CloakModeAuto   = "auto"
	CloakModeAlways = "always"
	CloakModeNever  = "never"
)

// ModelMapping exposes one provider model, optionally under an alias.
type ModelMapping struct {
	// ID is the model name the provider understands.
	ID string `yaml:"id"`

	// Alias is the name exposed through the gateway, when different.
	Alias string `yaml:"alias"`
}

// ProviderKeyEntry is one upstream credential with its routing metadata.
type ProviderKeyEntry struct {
	// APIKey is the secret used to authenticate against the provider.
	APIKey string `yaml:"api-key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base-url"`

	// ProxyURL overrides the global proxy for this credential. An empty
	// string forces a direct connection; omitting the field inherits the
	// global proxy.
	ProxyURL *string `yaml:"proxy-url"`

	// Prefix is stripped from inbound model names before matching; entries
	// with a prefix only serve models that carry it.
	Prefix string `yaml:"prefix"`

	// Models lists the model ids (and optional aliases) this credential
	// serves. An empty list serves everything not excluded.
	Models []ModelMapping `yaml:"models"`

	// ExcludedModels are glob patterns that reject otherwise-matching
	// model names.
	ExcludedModels []string `yaml:"excluded-models"`

	// Headers are static request headers sent with every upstream call.
	Headers map[string]string `yaml:"headers"`

	// Disabled removes the credential from routing without deleting it.
	Disabled bool `yaml:"disabled"`

	// Name is a human-readable label used in logs and debug headers.
	Name string `yaml:"name"`

	// Cloak configures request cloaking (Claude entries only).
	Cloak CloakConfig `yaml:"cloak"`

	// WireAPI selects "chat" or "responses" for OpenAI-compatible entries.
	WireAPI constant.WireAPI `yaml:"wire-api"`
}

// DefaultConfig returns the configuration used when a field is absent from
// the YAML file.
func DefaultConfig() *Config {
	return &Config{
		Host:    "0.0.0.0",
		Port:    8317,
		Routing: RoutingConfig{Strategy: StrategyRoundRobin},
		Streaming: StreamingConfig{
			KeepaliveSeconds: 15,
			BootstrapRetries: 1,
		},
		ConnectTimeout: 30,
		RequestTimeout: 300,
		BodyLimitMB:    10,
		Retry: RetryConfig{
			MaxRetries:          3,
			MaxBackoffSecs:      30,
			Cooldown429Secs:     60,
			Cooldown5xxSecs:     15,
			CooldownNetworkSecs: 10,
		},
		RequestLogCapacity: 1000,
	}
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it over the defaults, sanitizes the credential lists, and
// validates the result.
//
// Parameters:
//   - configFile: The path to the YAML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if the configuration could not be loaded
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.sanitize()
	if err = config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// sanitize normalizes credential entries and builds the O(1) key lookup
// sets. It drops entries without an API key, deduplicates by key, strips
// trailing slashes from base URLs, and lowercases static header names.
func (c *Config) sanitize() {
	c.ClaudeKeys = sanitizeEntries(c.ClaudeKeys)
	c.OpenAIKeys = sanitizeEntries(c.OpenAIKeys)
	c.GeminiKeys = sanitizeEntries(c.GeminiKeys)
	c.OpenAICompat = sanitizeEntries(c.OpenAICompat)

	for i, h := range c.PassthroughHeaders {
		c.PassthroughHeaders[i] = strings.ToLower(h)
	}

	c.apiKeySet = make(map[string]struct{}, len(c.APIKeys))
	for _, k := range c.APIKeys {
		c.apiKeySet[k] = struct{}{}
	}
	c.managementKeySet = make(map[string]struct{}, len(c.ManagementKeys))
	for _, k := range c.ManagementKeys {
		c.managementKeySet[k] = struct{}{}
	}
}

// validate rejects configurations the server cannot run with.
func (c *Config) validate() error {
	if c.TLS.Enable {
		if c.TLS.Cert == "" {
			return fmt.Errorf("tls enabled but cert path missing")
		}
		if c.TLS.Key == "" {
			return fmt.Errorf("tls enabled but key path missing")
		}
	}
	if c.ProxyURL != "" {
		if err := util.ValidateProxyURL(c.ProxyURL); err != nil {
			return err
		}
	}
	for _, entries := range c.ProviderEntries() {
		for _, entry := range entries {
			if entry.ProxyURL != nil && *entry.ProxyURL != "" {
				if err := util.ValidateProxyURL(*entry.ProxyURL); err != nil {
					return err
				}
			}
		}
	}
	switch c.Routing.Strategy {
	case StrategyRoundRobin, StrategyFillFirst:
	default:
		return fmt.Errorf("unknown routing strategy %q", c.Routing.Strategy)
	}
	return nil
}

func sanitizeEntries(entries []ProviderKeyEntry) []ProviderKeyEntry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, entry := range entries {
		if entry.APIKey == "" {
			continue
		}
		if _, dup := seen[entry.APIKey]; dup {
			continue
		}
		seen[entry.APIKey] = struct{}{}

		entry.BaseURL = strings.TrimRight(entry.BaseURL, "/")
		if len(entry.Headers) > 0 {
			headers := make(map[string]string, len(entry.Headers))
			for k, v := range entry.Headers {
				headers[strings.ToLower(k)] = v
			}
			entry.Headers = headers
		}
		out = append(out, entry)
	}
	return out
}

// ProviderEntries groups the credential lists by provider format,
// preserving list order within each format.
func (c *Config) ProviderEntries() map[constant.Format][]ProviderKeyEntry {
	return map[constant.Format][]ProviderKeyEntry{
		constant.Claude:       c.ClaudeKeys,
		constant.Gemini:       c.GeminiKeys,
		constant.OpenAI:       c.OpenAIKeys,
		constant.OpenAICompat: c.OpenAICompat,
	}
}

// ClientAuthRequired reports whether inbound requests must present a key.
func (c *Config) ClientAuthRequired() bool { return len(c.APIKeys) > 0 }

// HasAPIKey reports whether key is in the client allowlist.
func (c *Config) HasAPIKey(key string) bool {
	_, ok := c.apiKeySet[key]
	return ok
}

// HasManagementKey reports whether key may call management endpoints.
func (c *Config) HasManagementKey(key string) bool {
	_, ok := c.managementKeySet[key]
	return ok
}
