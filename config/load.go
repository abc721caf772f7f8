package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/hirewire/hirewire/errors"
)

// Load reads configuration from defaults, an optional hirewire.toml in
// the working directory, and HIREWIRE_* environment variables, in
// ascending precedence.
func Load() (*Config, error) {
	v := NewViper()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	return LoadWithViper(v)
}

// LoadFromFile loads configuration from a specific TOML file.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals configuration from a prepared Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// NewViper builds a Viper instance with defaults, environment binding,
// and the standard config file search path.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("HIREWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)

	v.SetConfigName("hirewire")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.hirewire")

	return v
}
