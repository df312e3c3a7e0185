// Package config loads the spearlet configuration surface described in
// SPEC_FULL.md §6.4: node identity, runtime backend settings, transport
// tuning, and an optional TLS cert/key pair.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig identifies this node to SMS.
type NodeConfig struct {
	UUID              string        `yaml:"uuid"`
	Name              string        `yaml:"name"`
	ListenAddr        string        `yaml:"listen_addr"`
	ListenPort        int           `yaml:"listen_port"`
	SMSGRPCAddr       string        `yaml:"sms_grpc_addr"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	AdminListenAddr   string        `yaml:"admin_listen_addr"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// RuntimeConfig governs task runtime backend behavior.
type RuntimeConfig struct {
	SearchPath           []string `yaml:"search_path"`
	StartBackendServices bool     `yaml:"start_backend_services"`
	Debug                bool     `yaml:"debug"`
	CleanupOnStop        bool     `yaml:"cleanup_on_stop"`
	SupportedTaskTypes   []string `yaml:"supported_task_types"`
}

// TransportConfig tunes the per-task frame pipe. ResponseTimeout and
// OutboundQueueCapacity feed comm.NewManager; StreamQueueCapacity is loaded
// but not read, and stream channels use stream.QueueCapacity.
type TransportConfig struct {
	ResponseTimeout        time.Duration `yaml:"response_timeout"`
	OutboundQueueCapacity  int           `yaml:"outbound_queue_capacity"`
	StreamQueueCapacity    int           `yaml:"stream_queue_capacity"`
}

// VarStoreConfig selects the per-task variable store backend (SPEC_FULL.md
// §4.2b). Redis is optional infrastructure: a node with Backend left at
// "memory" never dials out.
type VarStoreConfig struct {
	Backend   string        `yaml:"backend"` // "memory" (default) or "redis"
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
	Prefix    string        `yaml:"prefix"`
}

// TLSConfig holds a TLS cert/key file pair. Both fields must be set together
// or neither, per spec.md §6.4. Only Validate reads it; the admin exporter
// serves plain HTTP.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig configures the module-scoped logger (SPEC_FULL.md §4.0).
type LoggingConfig struct {
	Format       string            `yaml:"format"` // "json" or "text"
	DefaultLevel string            `yaml:"default_level"`
	Modules      map[string]string `yaml:"modules"`
}

// Config is the full spearlet configuration surface.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Transport TransportConfig `yaml:"transport"`
	VarStore  VarStoreConfig  `yaml:"var_store"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Defaults returns a Config populated with the defaults named in spec.md §6.4.
func Defaults() Config {
	return Config{
		Node: NodeConfig{
			ListenAddr:        "0.0.0.0",
			ListenPort:        8080,
			HeartbeatInterval: 10 * time.Second,
			AdminListenAddr:   ":9090",
			PollInterval:      5 * time.Second,
		},
		Runtime: RuntimeConfig{
			CleanupOnStop:      true,
			SupportedTaskTypes: []string{"process", "docker"},
		},
		Transport: TransportConfig{
			ResponseTimeout:       5 * time.Minute,
			OutboundQueueCapacity: 1024,
			StreamQueueCapacity:   128,
		},
		VarStore: VarStoreConfig{
			Backend: "memory",
			Prefix:  "spearlet",
		},
		Logging: LoggingConfig{
			Format:       "text",
			DefaultLevel: "info",
		},
	}
}

// Load reads a YAML configuration file and overlays it onto Defaults().
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants spec.md §6.4 calls out explicitly: TLS
// cert/key must be provided together or not at all.
func (c *Config) Validate() error {
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("config: both cert_file and key_file must be set, or neither")
	}
	switch c.VarStore.Backend {
	case "", "memory":
	case "redis":
		if c.VarStore.RedisAddr == "" {
			return fmt.Errorf("config: var_store.redis_addr is required when var_store.backend is \"redis\"")
		}
	default:
		return fmt.Errorf("config: unknown var_store.backend %q", c.VarStore.Backend)
	}
	return nil
}
