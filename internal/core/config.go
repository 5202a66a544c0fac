package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the on-disk form of the proxy, DNS and MTU scalars the
// control ABI's init() accepts (the TUN fd is not part of it), plus ambient knobs (log level, idle timeouts) left to the
// implementation. A host binary may load this from disk and pass its fields
// to Init, or it may ignore this type entirely and call the ABI functions
// directly with values from its own configuration channel.
type EngineConfig struct {
	// Proxy is the upstream HTTP CONNECT proxy "host:port", or empty for direct.
	Proxy string `yaml:"proxy,omitempty"`
	// DNS is reserved; the core does not currently interpret it.
	DNS string `yaml:"dns,omitempty"`
	// MTU bounds the TUN read buffer and emitted packet size.
	MTU int `yaml:"mtu"`
	// LogLevel is one of "debug", "info", "warn".
	LogLevel string `yaml:"log_level,omitempty"`
	// TCPIdleTimeoutSeconds overrides the default 60s TCP idle timeout. Zero
	// means use the default.
	TCPIdleTimeoutSeconds int `yaml:"tcp_idle_timeout_seconds,omitempty"`
	// UDPIdleTimeoutSeconds overrides the default 30s UDP idle timeout. Zero
	// means use the default.
	UDPIdleTimeoutSeconds int `yaml:"udp_idle_timeout_seconds,omitempty"`
}

// defaultEngineConfig returns a config with the default MTU.
func defaultEngineConfig() EngineConfig {
	return EngineConfig{MTU: 1500, LogLevel: "info"}
}

// LoadConfig reads and parses an EngineConfig from disk. If the file does
// not exist, it writes one populated with defaults and returns it.
func LoadConfig(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultEngineConfig()
			if saveErr := SaveConfig(path, cfg); saveErr != nil {
				return EngineConfig{}, fmt.Errorf("[Core] create default config: %w", saveErr)
			}
			return cfg, nil
		}
		return EngineConfig{}, fmt.Errorf("[Core] read config %s: %w", path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("[Core] parse config: %w", err)
	}
	if cfg.MTU <= 0 {
		cfg.MTU = 1500
	}
	return cfg, nil
}

// SaveConfig writes cfg to path.
func SaveConfig(path string, cfg EngineConfig) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("[Core] marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("[Core] write config %s: %w", path, err)
	}
	return nil
}
