package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigDirEnv overrides config discovery.
const ConfigDirEnv = "GITEA_RELAY_CONFIG_DIR"

// ErrIntegrity is returned when the config file does not match its .checksums lock.
var ErrIntegrity = errors.New("config integrity check failed")

// Load reads, interpolates, defaults and validates the config at configPath.
// A directory is accepted and resolved to its config.yaml. When a .checksums
// manifest sits next to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// LoadUnlocked is Load without the .checksums check, for authorizing an
// edited config.
func LoadUnlocked(configPath string) (*Config, error) {
	return load(configPath, false)
}

func load(configPath string, verify bool) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	if verify {
		if err := VerifyChecksums(absPath); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	resolveRelativePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	expanded := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	return applyConfigDefaults(cfg), nil
}

func resolveConfigFile(configPath string) (string, error) {
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

// DiscoverConfigPath finds the config by checking standard locations.
// Priority order: $GITEA_RELAY_CONFIG_DIR, ~/.config/gitea-relay,
// /etc/gitea-relay, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "gitea-relay")
		if _, err := os.Stat(filepath.Join(userConfigDir, "config.yaml")); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/gitea-relay"
	if _, err := os.Stat(filepath.Join(systemConfigDir, "config.yaml")); err == nil {
		return systemConfigDir, nil
	}

	localConfigPath := "./config.yaml"
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/gitea-relay, /etc/gitea-relay, ./config.yaml)", ConfigDirEnv)
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	wh := &cfg.Webhook
	if wh.Listen == "" {
		wh.Listen = defaults.Webhook.Listen
	}
	if wh.Path == "" {
		wh.Path = defaults.Webhook.Path
	}
	if !strings.HasPrefix(wh.Path, "/") {
		wh.Path = "/" + wh.Path
	}
	if wh.EventHeader == "" {
		wh.EventHeader = defaults.Webhook.EventHeader
	}
	if wh.SignatureHeader == "" {
		wh.SignatureHeader = defaults.Webhook.SignatureHeader
	}
	if wh.DeliveryHeader == "" {
		wh.DeliveryHeader = defaults.Webhook.DeliveryHeader
	}
	if wh.MaxBodySize == "" {
		wh.MaxBodySize = defaults.Webhook.MaxBodySize
	}
	if wh.DispatchTimeout == 0 {
		wh.DispatchTimeout = defaults.Webhook.DispatchTimeout
	}

	if cfg.Monitors.Path == "" {
		cfg.Monitors.Path = defaults.Monitors.Path
	}
	if cfg.Deliveries.Path == "" {
		cfg.Deliveries.Path = defaults.Deliveries.Path
	}
	if cfg.Deliveries.Retention == 0 {
		cfg.Deliveries.Retention = defaults.Deliveries.Retention
	}

	if cfg.Sender.Kind == "" {
		cfg.Sender.Kind = defaults.Sender.Kind
	}
	cfg.Sender.Kind = strings.ToLower(cfg.Sender.Kind)
	if cfg.Sender.Timeout == 0 {
		cfg.Sender.Timeout = defaults.Sender.Timeout
	}
	if cfg.Sender.MaxAttempts == 0 {
		cfg.Sender.MaxAttempts = defaults.Sender.MaxAttempts
	}

	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = defaults.Admin.Listen
	}

	return cfg
}

// resolveRelativePaths anchors data paths to the config file's directory.
func resolveRelativePaths(cfg *Config, baseDir string) {
	for _, p := range []*string{&cfg.Monitors.Path, &cfg.Deliveries.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Service.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("service.log_level must be one of debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if err := validateListen("webhook.listen", cfg.Webhook.Listen); err != nil {
		return err
	}
	if _, err := ParseSize(cfg.Webhook.MaxBodySize); err != nil {
		return fmt.Errorf("webhook.max_body_size %q: %w", cfg.Webhook.MaxBodySize, err)
	}
	if cfg.Webhook.DispatchTimeout < 0 {
		return fmt.Errorf("webhook.dispatch_timeout must be positive")
	}
	if cfg.Webhook.RateLimitPerMin < 0 {
		return fmt.Errorf("webhook.rate_limit_per_min must be >= 0")
	}

	switch cfg.Sender.Kind {
	case SenderOneBot, SenderWebhook:
		if cfg.Sender.URL == "" {
			return fmt.Errorf("sender.url is required for sender kind %q", cfg.Sender.Kind)
		}
		if !strings.HasPrefix(cfg.Sender.URL, "http://") && !strings.HasPrefix(cfg.Sender.URL, "https://") {
			return fmt.Errorf("sender.url must be an http(s) URL (got %q)", cfg.Sender.URL)
		}
	case SenderLog:
	default:
		return fmt.Errorf("sender.kind must be one of onebot, webhook, log (got %q)", cfg.Sender.Kind)
	}
	if envVarPattern.MatchString(cfg.Sender.Token) {
		return fmt.Errorf("sender.token references an undefined environment variable: %s", cfg.Sender.Token)
	}
	if cfg.Sender.Timeout < 0 || cfg.Sender.MaxAttempts < 0 {
		return fmt.Errorf("sender.timeout and sender.max_attempts must be positive")
	}

	if cfg.Deliveries.Retention < 0 {
		return fmt.Errorf("deliveries.retention must be positive")
	}

	if cfg.Admin.Enabled {
		if err := validateListen("admin.listen", cfg.Admin.Listen); err != nil {
			return err
		}
		if cfg.Admin.Token == "" {
			return fmt.Errorf("admin.token is required when admin.enabled is true")
		}
		if envVarPattern.MatchString(cfg.Admin.Token) {
			return fmt.Errorf("admin.token references an undefined environment variable: %s", cfg.Admin.Token)
		}
		for i, t := range cfg.Admin.Tokens {
			if t.Token == "" || envVarPattern.MatchString(t.Token) {
				return fmt.Errorf("admin.tokens[%d].token is empty or unresolved", i)
			}
			if len(t.Scopes) == 0 {
				return fmt.Errorf("admin.tokens[%d].scopes must not be empty", i)
			}
			for _, scope := range t.Scopes {
				if !knownAdminScopes[scope] {
					return fmt.Errorf("admin.tokens[%d]: unknown scope %q", i, scope)
				}
			}
		}
	}

	return nil
}

var knownAdminScopes = map[string]bool{
	"*":             true,
	"monitors:ro":   true,
	"monitors:rw":   true,
	"deliveries:ro": true,
}

func validateListen(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", field, addr, err)
	}
	return nil
}

// ParseSize parses size strings like "1MB", "512KB", "1048576" to bytes.
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.mult
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
