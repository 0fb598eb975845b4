// Package config holds the run configuration of a batch.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/papaganelli/ezstats/pkg/geoip"
	"github.com/papaganelli/ezstats/pkg/record"
)

const (
	DefaultLogDir    = "./ezproxy_logs"
	DefaultOutput    = "./ezproxy_stats.csv"
	DefaultErrorLog  = "./log_processing.log"
	DefaultGeoIPPath = "./GeoLite2-City.mmdb"

	MinWorkers = 1
	MaxWorkers = 64
)

// Config is the complete configuration of one run.
type Config struct {
	LogDir       string            `yaml:"log_dir"`
	Output       string            `yaml:"output"`
	ErrorLog     string            `yaml:"error_log"`
	Workers      int               `yaml:"workers"`
	CampusPrefix string            `yaml:"campus_prefix"`
	Labels       map[string]string `yaml:"labels"` // Requested host -> resource label
	Progress     bool              `yaml:"progress"`
	GeoIP        GeoIP             `yaml:"geoip"`
	ClickHouse   ClickHouse        `yaml:"clickhouse"`
}

// GeoIP selects the geolocation database.
type GeoIP struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// ClickHouse enables the optional ClickHouse sink when Addr is set.
type ClickHouse struct {
	Addr      string `yaml:"addr"`
	Database  string `yaml:"database"`
	Table     string `yaml:"table"`
	BatchSize int    `yaml:"batch_size"`
}

// Enabled reports whether records should also go to ClickHouse.
func (c ClickHouse) Enabled() bool {
	return c.Addr != ""
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		LogDir:       DefaultLogDir,
		Output:       DefaultOutput,
		ErrorLog:     DefaultErrorLog,
		Workers:      MinWorkers,
		CampusPrefix: record.DefaultCampusPrefix,
		GeoIP: GeoIP{
			Backend: geoip.BackendMaxMind,
			Path:    DefaultGeoIPPath,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()

		if err := Decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode reads YAML from r into cfg. Keys absent from the document keep their value.
func Decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnv overrides fields from EZSTATS_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"EZSTATS_LOG_DIR":         &c.LogDir,
		"EZSTATS_OUTPUT":          &c.Output,
		"EZSTATS_ERROR_LOG":       &c.ErrorLog,
		"EZSTATS_CAMPUS_PREFIX":   &c.CampusPrefix,
		"EZSTATS_GEOIP_BACKEND":   &c.GeoIP.Backend,
		"EZSTATS_GEOIP_DB":        &c.GeoIP.Path,
		"EZSTATS_CLICKHOUSE_ADDR": &c.ClickHouse.Addr,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok {
			*field = v
		}
	}

	if v, ok := lookup("EZSTATS_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EZSTATS_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v, ok := lookup("EZSTATS_GEOIP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("EZSTATS_GEOIP_TIMEOUT: %w", err)
		}
		c.GeoIP.LookupTimeout = d
	}
	return nil
}

// Validate clamps out-of-range values and rejects unusable ones.
func (c *Config) Validate() error {
	if c.LogDir == "" {
		return fmt.Errorf("log directory is required")
	}
	if c.Output == "" {
		return fmt.Errorf("output file is required")
	}
	if c.Workers < MinWorkers {
		c.Workers = MinWorkers
	}
	if c.Workers > MaxWorkers {
		c.Workers = MaxWorkers
	}
	if c.CampusPrefix == "" {
		c.CampusPrefix = record.DefaultCampusPrefix
	}
	if c.GeoIP.LookupTimeout < 0 {
		return fmt.Errorf("geoip lookup timeout must not be negative, got %v", c.GeoIP.LookupTimeout)
	}

	switch c.GeoIP.Backend {
	case "":
		c.GeoIP.Backend = geoip.BackendMaxMind
	case geoip.BackendMaxMind, geoip.BackendEmbedded:
	default:
		return fmt.Errorf("unknown geoip backend %q (want %s or %s)", c.GeoIP.Backend, geoip.BackendMaxMind, geoip.BackendEmbedded)
	}
	if c.GeoIP.Backend == geoip.BackendMaxMind && c.GeoIP.Path == "" {
		return fmt.Errorf("geoip path is required for the %s backend", geoip.BackendMaxMind)
	}
	return nil
}
