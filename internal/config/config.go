// Package config loads dnieim's runtime configuration from a config file,
// environment variables and command-line flags, layered by viper in the
// order the pack's own CLI tools do it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration of cmd/dnieim.
type Config struct {
	// Home is the directory holding the encrypted identity, contact book
	// and message queue.
	Home string `mapstructure:"home"`
	// DisplayName is offered to the identity provider on first run; it
	// has no effect once an identity already exists.
	DisplayName string `mapstructure:"display_name"`

	// UDPPort is the local port the peer-to-peer transport binds.
	UDPPort int `mapstructure:"udp_port"`

	// UseLANDiscovery toggles the mDNS backend of the Discovery Fabric.
	UseLANDiscovery bool `mapstructure:"use_lan_discovery"`

	// RelayAddress is the untrusted relay's host; empty disables the
	// relay backend entirely.
	RelayAddress string `mapstructure:"relay_address"`
	// RelayPort is the relay's listening port.
	RelayPort int `mapstructure:"relay_port"`
}

// RelayAddr returns "host:port", or "" if no relay is configured.
func (c Config) RelayAddr() string {
	if c.RelayAddress == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.RelayAddress, c.RelayPort)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("udp_port", 6666)
	v.SetDefault("relay_port", 7777)
	v.SetDefault("use_lan_discovery", true)
	v.SetDefault("relay_address", "")
	v.SetDefault("home", "")
	v.SetDefault("display_name", "")
}

func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DNIEIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("dnieim")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".dnieim"))
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}
	return v, nil
}

func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.Home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("config: resolve home: %w", err)
		}
		cfg.Home = filepath.Join(dir, ".dnieim")
	}
	return cfg, nil
}

// Load resolves Config from, in ascending priority: built-in defaults, a
// config file (dnieim.yaml under home or the current directory), the
// DNIEIM_-prefixed environment, then flags already parsed into fs.
func Load(fs *pflag.FlagSet) (Config, error) {
	v, err := newViper(fs)
	if err != nil {
		return Config{}, err
	}
	return unmarshal(v)
}

// Watch resolves an initial Config exactly as Load does, then starts
// watching the config file for changes (via viper's fsnotify integration)
// and invokes onChange with the freshly reloaded Config each time it's
// edited on disk. Socket-bound settings like udp_port only take effect on
// the next `run`; this exists so a resident daemon can at least surface a
// changed relay_address or use_lan_discovery to its logs rather than
// requiring a restart to notice.
func Watch(fs *pflag.FlagSet, onChange func(Config)) (Config, error) {
	v, err := newViper(fs)
	if err != nil {
		return Config{}, err
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if reloaded, err := unmarshal(v); err == nil {
			onChange(reloaded)
		}
	})
	v.WatchConfig()
	return cfg, nil
}
