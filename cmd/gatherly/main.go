package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	gatherly "github.com/gatherly/gatherly-go"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.gatherly/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	BaseURL string `toml:"base_url"`
}

// ConfigAuth holds authentication state.
type ConfigAuth struct {
	Token    string `toml:"token"`
	UserID   int64  `toml:"user_id"`
	Username string `toml:"username"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.gatherly, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".gatherly")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// newSDKClient builds a client from the stored configuration.
func newSDKClient(cfg *Config) (*gatherly.Client, error) {
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("not authenticated; run 'gatherly init <token>' first")
	}
	if cfg.Default.BaseURL != "" {
		return gatherly.NewClient(cfg.Auth.Token, gatherly.WithBaseURL(cfg.Default.BaseURL)), nil
	}
	return gatherly.NewClient(cfg.Auth.Token), nil
}

// parseTopic parses a "dm:7" or "group:12" style topic argument.
func parseTopic(arg string) (gatherly.Topic, error) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		return gatherly.Topic{}, fmt.Errorf("topic must be kind:id (e.g. dm:7 or group:12)")
	}
	var kind gatherly.TopicKind
	switch parts[0] {
	case "dm":
		kind = gatherly.TopicDM
	case "group":
		kind = gatherly.TopicGroup
	default:
		return gatherly.Topic{}, fmt.Errorf("unknown topic kind %q (valid: dm, group)", parts[0])
	}
	var id int64
	if _, err := fmt.Sscanf(parts[1], "%d", &id); err != nil || id <= 0 {
		return gatherly.Topic{}, fmt.Errorf("invalid topic id %q", parts[1])
	}
	return gatherly.Topic{Kind: kind, ID: id}, nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "gatherly",
	Short: "Gatherly SDK CLI",
	Long:  "Command-line interface for the Gatherly SDK.\nManage configuration, browse conversation history, and watch live events.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
