package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. BURROW_NETWORK_BRIDGE
const EnvPrefix = "BURROW"

// Settings is the daemon configuration. It is built once at startup and
// passed to every component constructor.
type Settings struct {
	DataDir          string        `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogJSON          bool          `mapstructure:"log_json" yaml:"log_json"`
	Workers          int           `mapstructure:"workers" yaml:"workers" validate:"min=1,max=64"`
	HookTimeout      time.Duration `mapstructure:"hook_timeout" yaml:"hook_timeout" validate:"gt=0"`
	HookRetries      int           `mapstructure:"hook_retries" yaml:"hook_retries" validate:"min=0,max=10"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout" validate:"gt=0"`
	MonitorInterval  time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval" validate:"gt=0"`
	RetainStopped    time.Duration `mapstructure:"retain_stopped" yaml:"retain_stopped" validate:"min=0"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval" yaml:"eviction_interval" validate:"gt=0"`
	MetricsAddr      string        `mapstructure:"metrics_addr" yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Runtime          Runtime       `mapstructure:"runtime" yaml:"runtime"`
	Network          Network       `mapstructure:"network" yaml:"network"`
}

// Runtime configures the OCI runtime binary
type Runtime struct {
	Binary        string `mapstructure:"binary" yaml:"binary" validate:"required"`
	Root          string `mapstructure:"root" yaml:"root"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	SystemdCgroup bool   `mapstructure:"systemd_cgroup" yaml:"systemd_cgroup"`
}

// Network configures the container bridge and address pool
type Network struct {
	Enabled            bool     `mapstructure:"enabled" yaml:"enabled"`
	Bridge             string   `mapstructure:"bridge" yaml:"bridge" validate:"required,max=15"`
	Subnet             string   `mapstructure:"subnet" yaml:"subnet" validate:"required,cidrv4"`
	BridgeAddress      string   `mapstructure:"bridge_address" yaml:"bridge_address" validate:"required,ipv4"`
	RangeStart         string   `mapstructure:"range_start" yaml:"range_start" validate:"required,ipv4"`
	RangeEnd           string   `mapstructure:"range_end" yaml:"range_end" validate:"required,ipv4"`
	MTU                int      `mapstructure:"mtu" yaml:"mtu" validate:"min=576,max=9000"`
	ExternalInterfaces []string `mapstructure:"external_interfaces" yaml:"external_interfaces"`
	IPv6Prefix         string   `mapstructure:"ipv6_prefix" yaml:"ipv6_prefix" validate:"omitempty,cidrv6"`
	DNSRedirect        bool     `mapstructure:"dns_redirect" yaml:"dns_redirect"`
}

// Default returns the built-in settings
func Default() *Settings {
	return &Settings{
		DataDir:          "/var/lib/burrow",
		LogLevel:         "info",
		Workers:          4,
		HookTimeout:      5 * time.Second,
		StopTimeout:      10 * time.Second,
		MonitorInterval:  250 * time.Millisecond,
		RetainStopped:    10 * time.Minute,
		EvictionInterval: time.Minute,
		MetricsAddr:      "127.0.0.1:9105",
		Runtime: Runtime{
			Binary: "runc",
			Root:   "/run/burrow/runc",
		},
		Network: Network{
			Enabled:       true,
			Bridge:        "burrow0",
			Subnet:        "100.64.11.0/24",
			BridgeAddress: "100.64.11.1",
			RangeStart:    "100.64.11.2",
			RangeEnd:      "100.64.11.250",
			MTU:           1500,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("hook_timeout", d.HookTimeout)
	v.SetDefault("hook_retries", d.HookRetries)
	v.SetDefault("stop_timeout", d.StopTimeout)
	v.SetDefault("monitor_interval", d.MonitorInterval)
	v.SetDefault("retain_stopped", d.RetainStopped)
	v.SetDefault("eviction_interval", d.EvictionInterval)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("runtime.binary", d.Runtime.Binary)
	v.SetDefault("runtime.root", d.Runtime.Root)
	v.SetDefault("runtime.log_file", d.Runtime.LogFile)
	v.SetDefault("runtime.systemd_cgroup", d.Runtime.SystemdCgroup)
	v.SetDefault("network.enabled", d.Network.Enabled)
	v.SetDefault("network.bridge", d.Network.Bridge)
	v.SetDefault("network.subnet", d.Network.Subnet)
	v.SetDefault("network.bridge_address", d.Network.BridgeAddress)
	v.SetDefault("network.range_start", d.Network.RangeStart)
	v.SetDefault("network.range_end", d.Network.RangeEnd)
	v.SetDefault("network.mtu", d.Network.MTU)
	v.SetDefault("network.external_interfaces", d.Network.ExternalInterfaces)
	v.SetDefault("network.ipv6_prefix", d.Network.IPv6Prefix)
	v.SetDefault("network.dns_redirect", d.Network.DNSRedirect)
}

// Load reads settings from path, or from burrow.yaml in /etc/burrow or the
// working directory when path is empty. Environment variables prefixed with
// BURROW_ override file values.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("burrow")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/burrow")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var validate = validator.New()

// Validate checks field constraints and the address pool layout
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Network.Enabled {
		if _, err := s.Network.Pool(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
	}
	return nil
}

// Validator returns the shared validator, also used for per-container config
func Validator() *validator.Validate {
	return validate
}
