// Package config loads and holds the gateway's configuration.
// Settings are layered: defaults -> YAML file -> environment variables ->
// CLI flags (each layer overrides the previous one), the same chain as the
// teacher's internal/config/config.go Load(), with the file format promoted
// from JSON to YAML (gopkg.in/yaml.v3) and a flag layer added on top via
// github.com/spf13/cobra's *pflag.FlagSet.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/syntax-syndicate/codegate-alt/internal/model"
)

// Config holds the full gateway configuration.
type Config struct {
	GatewayPort    int    `yaml:"gateway_port"`
	MITMPort       int    `yaml:"mitm_port"`
	ManagementPort int    `yaml:"management_port"`
	BindAddress    string `yaml:"bind_address"`

	ManagementToken string `yaml:"management_token"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "console" or "json"

	CACertFile string `yaml:"ca_cert_file"`
	CAKeyFile  string `yaml:"ca_key_file"`

	WorkspacesFile       string `yaml:"workspaces_file"`
	PIICacheFile         string `yaml:"pii_cache_file"` // bbolt-backed classification cache; empty = in-memory only
	AuditDBFile          string `yaml:"audit_db_file"`
	SignatureCatalogFile string `yaml:"signature_catalog_file"` // empty = built-in DefaultSignatureCatalog

	// PII detection: a regex pre-pass classifies every span immediately;
	// below AIConfidence, Ollama is consulted asynchronously to refine the
	// cached classification for next time (internal/redact.Detector).
	OllamaEndpoint      string  `yaml:"ollama_endpoint"`
	OllamaModel         string  `yaml:"ollama_model"`
	UseAIDetection      bool    `yaml:"use_ai_detection"`
	AIConfidence        float64 `yaml:"ai_confidence_threshold"`
	OllamaMaxConcurrent int     `yaml:"ollama_max_concurrent"`
	PIICacheCapacity    int     `yaml:"pii_cache_capacity"`

	// PackageSimilarityFloor gates the package-intelligence vector index
	// (internal/packageindex): matches scoring below this are treated as no
	// match at all.
	PackageSimilarityFloor float64 `yaml:"package_similarity_floor"`

	ProviderEndpoints []model.ProviderEndpoint `yaml:"provider_endpoints"`

	// PIIInstructions maps LLM family prefix (e.g. "claude", "gpt") to the
	// system instruction injected when redaction placeholders are present in
	// a request. Lookup is prefix-based: "claude-sonnet-4-6" matches key
	// "claude". The special key "default" is used when no prefix matches.
	PIIInstructions map[string]string `yaml:"pii_instructions"`
}

// Load returns config with defaults overridden by the YAML file at path (if
// it exists) and then by environment variables. path may be empty, in which
// case only defaults and env vars apply.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	loadEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		GatewayPort:    8989,
		MITMPort:       8990,
		ManagementPort: 9090,
		BindAddress:    "127.0.0.1",

		LogLevel:  "info",
		LogFormat: "console",

		CACertFile: "ca-cert.pem",
		CAKeyFile:  "ca-key.pem",

		WorkspacesFile:       "codegate-workspaces.json",
		PIICacheFile:         "codegate-pii-cache.db",
		AuditDBFile:          "codegate-audit.db",
		SignatureCatalogFile: "",

		OllamaEndpoint:      "http://localhost:11434",
		OllamaModel:         "qwen2.5:3b",
		UseAIDetection:      true,
		AIConfidence:        0.7,
		OllamaMaxConcurrent: 1,
		PIICacheCapacity:    10000,

		PackageSimilarityFloor: 0.85,

		PIIInstructions: map[string]string{
			"claude": "PRIVACY TOKENS: This request contains privacy-preserving placeholders" +
				" matching the pattern [PII_XXXXXXXX] (8 hex characters). You MUST reproduce" +
				" every such token EXACTLY as written in your response. Do NOT replace them with" +
				" example values, email addresses, phone numbers, names, or any other substitutes." +
				" Treat [PII_*] tokens as opaque identifiers that must pass through unchanged.",
			"gpt": "PRIVACY TOKENS: This request contains privacy-preserving placeholders" +
				" matching the pattern [PII_XXXXXXXX] (8 hex characters). Reproduce every such" +
				" token verbatim in your response. Do not substitute them with example values.",
			"default": "PRIVACY TOKENS: This request contains privacy-preserving placeholders" +
				" matching the pattern [PII_XXXXXXXX] (8 hex characters). Reproduce every such" +
				" token verbatim in your response. Do not substitute them with example values.",
		},
	}
}

// ResolvePIIInstruction returns the redaction system instruction for the
// given model string using prefix matching. "claude-sonnet-4-6" matches key
// "claude". Falls back to the "default" key, then to "" if neither exists.
func (c *Config) ResolvePIIInstruction(modelName string) string {
	for key, instruction := range c.PIIInstructions {
		if key == "default" {
			continue
		}
		if len(modelName) >= len(key) && modelName[:len(key)] == key {
			return instruction
		}
	}
	if fallback, ok := c.PIIInstructions["default"]; ok {
		return fallback
	}
	return ""
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G703: path is an operator-controlled config path, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil // file is optional
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("CODEGATE_GATEWAY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GatewayPort = n
		}
	}
	if v := os.Getenv("CODEGATE_MITM_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MITMPort = n
		}
	}
	if v := os.Getenv("CODEGATE_MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("CODEGATE_BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("CODEGATE_MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("CODEGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CODEGATE_CA_CERT_FILE"); v != "" {
		cfg.CACertFile = v
	}
	if v := os.Getenv("CODEGATE_CA_KEY_FILE"); v != "" {
		cfg.CAKeyFile = v
	}
	if v := os.Getenv("CODEGATE_OLLAMA_ENDPOINT"); v != "" {
		cfg.OllamaEndpoint = v
	}
	if v := os.Getenv("CODEGATE_OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("CODEGATE_USE_AI_DETECTION"); v != "" {
		cfg.UseAIDetection = v != "false"
	}
	if v := os.Getenv("CODEGATE_AI_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AIConfidence = f
		}
	}
	if v := os.Getenv("CODEGATE_OLLAMA_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OllamaMaxConcurrent = n
		}
	}
}

// BindFlags registers the subset of Config that makes sense as CLI
// overrides onto fs, to be parsed after Load so flags win over the file and
// environment layers. Grounded on the pack's cobra-based cmd/ entrypoints,
// which bind flags straight onto a config struct's fields via pflag rather
// than a separate flags type.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.GatewayPort, "gateway-port", c.GatewayPort, "clear-HTTP provider proxy port")
	fs.IntVar(&c.MITMPort, "mitm-port", c.MITMPort, "HTTPS-CONNECT proxy port with TLS interception")
	fs.IntVar(&c.ManagementPort, "management-port", c.ManagementPort, "management API port")
	fs.StringVar(&c.BindAddress, "bind-address", c.BindAddress, "address all listeners bind to")
	fs.StringVar(&c.ManagementToken, "management-token", c.ManagementToken, "bearer token required by the management API; empty disables auth")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.CACertFile, "ca-cert-file", c.CACertFile, "path to the interception CA certificate")
	fs.StringVar(&c.CAKeyFile, "ca-key-file", c.CAKeyFile, "path to the interception CA private key")
}
