package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ORCH_SERVICE_LOG_LEVEL.
const EnvPrefix = "ORCH_"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies ORCH_* environment overrides and validates the result. An empty
// path loads defaults plus environment overrides only.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := resolvePath(configPath)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
		dec := yaml.NewDecoder(strings.NewReader(interpolateEnv(string(data))))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", absPath, err)
		}
		cfg.SourcePath = absPath
		cfg.Fingerprint = hashBytes(data)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds a config file by checking standard locations.
// Priority order: $ORCH_CONFIG, ~/.config/orchestrator/config.yaml,
// /etc/orchestrator/config.yaml, ./config.yaml. It returns "" when none exist.
func Discover() string {
	candidates := []string{os.Getenv("ORCH_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "orchestrator", "config.yaml"))
	}
	candidates = append(candidates, "/etc/orchestrator/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func resolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and rejected by Validate where they
// land in a secret.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return formatValidationErrors(err)
	}

	secrets := map[string]string{
		"api.auth.api_key":        cfg.API.Auth.APIKey,
		"redis.password":          cfg.Redis.Password,
		"webhook.secret":          cfg.Webhook.Secret,
		"rabbitmq.url":            cfg.RabbitMQ.URL,
		"rabbitmq.management_url": cfg.RabbitMQ.ManagementURL,
	}
	for i, tok := range cfg.API.Auth.Tokens {
		secrets[fmt.Sprintf("api.auth.tokens[%d].token", i)] = tok.Token
	}
	for field, value := range secrets {
		if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
		}
	}

	if cfg.API.Enabled && cfg.Webhook.Enabled && cfg.API.Listen == cfg.Webhook.Listen {
		return fmt.Errorf("webhook.listen must differ from api.listen (both %q)", cfg.API.Listen)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatFieldError(e))
	}
	return errors.New(strings.Join(messages, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got %q)", field, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "gt", "gte", "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}
