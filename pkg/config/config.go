/*
Package config loads Vigil's runtime configuration (spec.md §6): every
tunable option — pattern-rule directory, threat-intel feeds, sandbox
caps, timeouts, bus endpoint, metadata DSN, object-store endpoint and
credentials, tenant encryption-key provider — in one YAML document.
Some loaded fields are not read by any component: the stage timeouts,
the sandbox vCPU/memory/wall-clock caps, the threat-intel refresh
interval and feed format, and the pattern-scan timeout. The code applies
fixed values equal to their defaults, so changing them in the file has
no effect.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Postgres     PostgresConfig     `yaml:"postgres"`
	ObjectStore  ObjectStoreConfig  `yaml:"object_store"`
	Bus          BusConfig          `yaml:"bus"`
	Redis        RedisConfig        `yaml:"redis"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Timeouts     TimeoutsConfig     `yaml:"timeouts"`
	ThreatIntel  ThreatIntelConfig  `yaml:"threat_intel"`
	PatternRules PatternRulesConfig `yaml:"pattern_rules"`
	TenantKeys   TenantKeysConfig   `yaml:"tenant_keys"`
}

// PostgresConfig configures C2, the metadata store.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxConns     int32  `yaml:"max_conns"`
	OutboxDBPath string `yaml:"outbox_db_path"` // bbolt file for the ingest outbox
}

// ObjectStoreConfig configures C1.
type ObjectStoreConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// BusConfig configures C3.
type BusConfig struct {
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	ConsumerGroup string `yaml:"consumer_group"`
	Concurrency   int    `yaml:"concurrency"` // bounded handler goroutines per subscription
}

// RedisConfig configures the streaming fabric's reconnection buffer.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SandboxConfig configures C6 resource caps (spec.md §4.3). Only
// DiskBytes (the scratch cap) and Backend are read; the supervisors apply
// the fixed sandbox.ResourceCaps for vCPUs, memory and wall clock.
type SandboxConfig struct {
	VCPUs       float64       `yaml:"vcpus"`
	MemoryBytes int64         `yaml:"memory_bytes"`
	DiskBytes   int64         `yaml:"disk_bytes"`
	WallClock   time.Duration `yaml:"wall_clock"`
	Backend     string        `yaml:"backend"` // "containerd" or "microvm"
}

// TimeoutsConfig holds the budgets from spec.md §5. No stage reads it;
// each stage applies its own fixed budget of the default value.
type TimeoutsConfig struct {
	Ingest    time.Duration `yaml:"ingest"`
	Static    time.Duration `yaml:"static"`
	Dynamic   time.Duration `yaml:"dynamic"`
	Synthesis time.Duration `yaml:"synthesis"`
	Stream    time.Duration `yaml:"stream"`
}

// ThreatIntelConfig configures the feed descriptors from spec.md §6.
// RefreshInterval is not read; the cache refreshes on the fixed
// threatintel.RefreshInterval.
type ThreatIntelConfig struct {
	Feeds           []ThreatIntelFeed `yaml:"feeds"`
	RefreshInterval time.Duration     `yaml:"refresh_interval"`
}

// ThreatIntelFeed is one configured indicator feed. Format is not read;
// every feed is fetched and decoded as a JSON indicator document.
type ThreatIntelFeed struct {
	URL    string `yaml:"url"`
	Format string `yaml:"format"` // csv, json, stix
}

// PatternRulesConfig points at the configured rule directory (spec.md
// §4.2 step 4). Timeout is not read; the scan uses the fixed
// patternscan.DefaultTimeout.
type PatternRulesConfig struct {
	Directory string        `yaml:"directory"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TenantKeysConfig configures the tenant encryption-key provider.
type TenantKeysConfig struct {
	MasterKeyRef string `yaml:"master_key_ref"`
}

// Default returns a Config populated with the budgets and caps spec.md
// names explicitly, so a deployment works out of the box and only needs
// overriding for endpoints/credentials.
func Default() Config {
	return Config{
		Bus: BusConfig{
			Concurrency: 8,
		},
		Sandbox: SandboxConfig{
			VCPUs:       1,
			MemoryBytes: 2 << 30,  // 2 GiB
			DiskBytes:   10 << 30, // 10 GiB
			WallClock:   300 * time.Second,
			Backend:     "containerd",
		},
		Timeouts: TimeoutsConfig{
			Ingest:    120 * time.Second,
			Static:    30 * time.Second,
			Dynamic:   300 * time.Second,
			Synthesis: 2 * time.Second,
			Stream:    5 * time.Second,
		},
		ThreatIntel: ThreatIntelConfig{
			RefreshInterval: 15 * time.Minute,
		},
		PatternRules: PatternRulesConfig{
			Timeout: 25 * time.Second,
		},
	}
}

// Load reads and parses a YAML config file, overlaying it on Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
