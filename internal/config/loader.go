package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for aegis.yaml/.yml in
// standard locations. The search requires an explicit YAML extension so a
// bare "aegis" binary in the working directory is never mistaken for it.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("aegis")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AEGIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("runtime.audit_dir")
	_ = viper.BindEnv("runtime.query_db")
	_ = viper.BindEnv("runtime.operator")
	_ = viper.BindEnv("runtime.log_level")
	_ = viper.BindEnv("runtime.operator_token_hash")
}

// findConfigFile searches standard locations for an aegis config file with
// an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{".", filepath.Join(home, ".aegis"), "/etc/aegis"}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "aegis"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// LoadConfig reads the configuration file, applies defaults, validates the
// result, and returns it. Missing config files fall back to environment
// variables only.
func LoadConfig() (*File, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg File
	if err := viper.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, fmt.Errorf("config: unmarshal config (unknown key?): %w", err)
	}

	cfg.SetDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file Viper loaded,
// or an empty string in environment-variables-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
