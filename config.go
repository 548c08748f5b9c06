package vmstore

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vmstore/docstore"
)

// Defaults applied by PopulateDefaults.
const (
	DefaultHost         = "localhost"
	DefaultPort         = 27017
	DefaultDatabaseName = "context"
	DefaultIndexTimeout = 30 * time.Second
)

// Backend names accepted by Config.Backend.
const (
	BackendMongo    = "mongo"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config describes how to reach and use the document store.
type Config struct {
	Host          string         `yaml:"host"`
	Port          int            `yaml:"port"`
	Servers       []ServerConfig `yaml:"servers"`
	ReplicaSet    string         `yaml:"replicaSet"`
	DatabaseName  string         `yaml:"databaseName"`
	Username      string         `yaml:"username"`
	Password      string         `yaml:"password"`
	AuthNamespace string         `yaml:"authNamespace"`
	Options       ClientOptions  `yaml:"options"`

	// HeartbeatIntervalMs enables the liveness watchdog when > 0.
	HeartbeatIntervalMs int `yaml:"heartbeatIntervalMs"`

	// Indexes lists the indexes to provision per collection.
	Indexes map[string][]docstore.IndexSpec `yaml:"indexes"`

	// IDFormat is "objectid" (default) or "uuid".
	IDFormat string `yaml:"idFormat"`

	// Backend selects the driver used by the CLI: mongo (default), dynamodb or memory.
	Backend string `yaml:"backend"`

	MaxInFlight    int64   `yaml:"maxInFlight"`
	OpsPerSecond   float64 `yaml:"opsPerSecond"`
	IndexTimeoutMs int     `yaml:"indexTimeoutMs"`

	// Region is used by the dynamodb backend.
	Region string `yaml:"region"`
}

// ServerConfig is one member of a clustered deployment.
type ServerConfig struct {
	Host    string            `yaml:"host"`
	Port    int               `yaml:"port"`
	Options map[string]string `yaml:"options"`
}

// ClientOptions are transport options handed to the driver.
type ClientOptions struct {
	SSL           bool     `yaml:"ssl"`
	AutoReconnect bool     `yaml:"autoReconnect"`
	Compressors   []string `yaml:"compressors"`
}

// DefaultConfig returns a config pointing at a local single server.
func DefaultConfig() Config {
	var cfg Config
	cfg.PopulateDefaults()
	return cfg
}

// LoadConfig reads a YAML config file, fills defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PopulateDefaults fills unset fields. Host and port are not defaulted for
// the dynamodb backend, where an empty host selects the regional endpoint.
func (c *Config) PopulateDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMongo
	}
	if c.Backend != BackendDynamoDB {
		if c.Host == "" {
			c.Host = DefaultHost
		}
		if c.Port == 0 {
			c.Port = DefaultPort
		}
	}
	if c.DatabaseName == "" {
		c.DatabaseName = DefaultDatabaseName
	}
	if c.IDFormat == "" {
		c.IDFormat = IDFormatObjectID
	}
	if c.IndexTimeoutMs == 0 {
		c.IndexTimeoutMs = int(DefaultIndexTimeout / time.Millisecond)
	}
}

// Validate checks the config for values no backend can use.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendMongo, BackendDynamoDB, BackendMemory:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	switch strings.ToLower(c.IDFormat) {
	case "", IDFormatObjectID, IDFormatUUID:
	default:
		return fmt.Errorf("%w: unknown idFormat %q", ErrInvalidConfig, c.IDFormat)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.HeartbeatIntervalMs < 0 {
		return fmt.Errorf("%w: heartbeatIntervalMs must not be negative", ErrInvalidConfig)
	}
	if c.MaxInFlight < 0 || c.OpsPerSecond < 0 || c.IndexTimeoutMs < 0 {
		return fmt.Errorf("%w: throttle limits must not be negative", ErrInvalidConfig)
	}
	if c.Password != "" && c.Username == "" {
		return fmt.Errorf("%w: password set without username", ErrInvalidConfig)
	}
	for coll, specs := range c.Indexes {
		for i, spec := range specs {
			if err := normalizeIndex(spec).Validate(); err != nil {
				return fmt.Errorf("%w: indexes.%s[%d]: %w", ErrInvalidConfig, coll, i, err)
			}
		}
	}
	return nil
}

// HeartbeatInterval returns the watchdog interval, zero when disabled.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// IndexTimeout bounds background index provisioning.
func (c *Config) IndexTimeout() time.Duration {
	if c.IndexTimeoutMs <= 0 {
		return DefaultIndexTimeout
	}
	return time.Duration(c.IndexTimeoutMs) * time.Millisecond
}

// Topology translates the config into what a driver connects to. With
// servers configured the topology is clustered over every server that has
// both host and port; otherwise it is the single Host:Port endpoint.
func (c *Config) Topology() docstore.Topology {
	t := docstore.Topology{
		ReplicaSet:    c.ReplicaSet,
		Database:      c.DatabaseName,
		TLS:           c.Options.SSL,
		AutoReconnect: c.Options.AutoReconnect,
		Compressors:   c.Options.Compressors,
		Region:        c.Region,
	}

	if len(c.Servers) > 0 {
		t.Clustered = true
		for _, s := range c.Servers {
			if s.Host == "" || s.Port == 0 {
				continue
			}
			t.Endpoints = append(t.Endpoints, docstore.Endpoint{
				Host:    s.Host,
				Port:    s.Port,
				Options: s.Options,
			})
		}
		return t
	}

	if c.Host != "" || c.Port != 0 {
		t.Endpoints = []docstore.Endpoint{{Host: c.Host, Port: c.Port}}
	}
	return t
}

func (c *Config) credentials() (docstore.Credentials, bool) {
	if c.Username == "" {
		return docstore.Credentials{}, false
	}
	return docstore.Credentials{
		Username:      c.Username,
		Password:      c.Password,
		AuthNamespace: c.AuthNamespace,
	}, true
}
