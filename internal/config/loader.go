package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] when the corresponding field is unset.
const (
	DefaultRecentTurns         = 20
	DefaultRetrievalLimit      = 10
	DefaultEmbeddingDimensions = 1536
	DefaultIssuer              = "gamemaster"
	DefaultTokenTTL            = Duration(24 * time.Hour)
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for unset pipeline tuning fields.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; the server cannot answer turns without an LLM"))
	}
	if cfg.Providers.Embeddings.Name == "" && cfg.Stores.PostgresDSN != "" {
		slog.Warn("providers.embeddings is not configured; semantic retrieval will be unavailable")
	}

	// Stores
	if cfg.Stores.RedisAddr == "" {
		errs = append(errs, errors.New("stores.redis_addr is required for the fact store"))
	}
	if cfg.Stores.RedisDB < 0 || cfg.Stores.RedisDB > 15 {
		errs = append(errs, fmt.Errorf("stores.redis_db %d is out of range [0, 15]", cfg.Stores.RedisDB))
	}
	if cfg.Stores.PostgresDSN == "" {
		errs = append(errs, errors.New("stores.postgres_dsn is required for the turn log and semantic index"))
	}
	if cfg.Stores.MongoURI == "" {
		errs = append(errs, errors.New("stores.mongo_uri is required for the character sheet store"))
	}
	if cfg.Stores.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("stores.embedding_dimensions %d must be positive", cfg.Stores.EmbeddingDimensions))
	}
	if cfg.Stores.EmbeddingDimensions == 0 {
		if cfg.Providers.Embeddings.Name != "" {
			slog.Warn("stores.embedding_dimensions is not set; defaulting", "dimensions", DefaultEmbeddingDimensions)
		}
		cfg.Stores.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	// Chat pipeline tuning
	if cfg.Chat.RecentTurns < 0 {
		errs = append(errs, fmt.Errorf("chat.recent_turns %d must not be negative", cfg.Chat.RecentTurns))
	}
	if cfg.Chat.RecentTurns == 0 {
		cfg.Chat.RecentTurns = DefaultRecentTurns
	}
	if cfg.Chat.RetrievalLimit < 0 {
		errs = append(errs, fmt.Errorf("chat.retrieval_limit %d must not be negative", cfg.Chat.RetrievalLimit))
	}
	if cfg.Chat.RetrievalLimit == 0 {
		cfg.Chat.RetrievalLimit = DefaultRetrievalLimit
	}
	if cfg.Chat.RulesPath == "" {
		slog.Warn("chat.rules_path is empty; prompts will be assembled without a rule book")
	}

	// Auth
	if (cfg.Auth.PrivateKeyPath == "") != (cfg.Auth.PublicKeyPath == "") {
		errs = append(errs, errors.New("auth requires both private_key_path and public_key_path, or neither"))
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl %s must not be negative", cfg.Auth.TokenTTL))
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = DefaultIssuer
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
