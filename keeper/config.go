package keeper

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/recsnap/dbopen"
	"github.com/hazyhaar/recsnap/snapshot"
	"github.com/hazyhaar/recsnap/snapshot/kvstore"
	"github.com/hazyhaar/recsnap/snapshot/tablestore"
)

// Config holds all keeper configuration.
type Config struct {
	// Backend selects the storage: "table" (default), "file", "kv" or "memory".
	Backend string         `yaml:"backend" validate:"oneof=table file kv memory"`
	Table   TableConfig    `yaml:"table"`
	File    FileConfig     `yaml:"file"`
	KV      kvstore.Config `yaml:"kv"`

	LabelPrefix   string   `yaml:"label_prefix"`
	ExcludeFields []string `yaml:"exclude_fields"`
	// CaptureEvents lists the event kinds the record observer saves.
	// Empty means all.
	CaptureEvents []string `yaml:"capture_events"`

	Retention     snapshot.RetentionPolicy `yaml:"retention"`
	PruneInterval time.Duration            `yaml:"prune_interval" validate:"gt=0"`

	Stats StatsConfig `yaml:"stats"`
	Audit AuditConfig `yaml:"audit"`
}

// TableConfig configures the SQLite backend.
type TableConfig struct {
	DBPath string `yaml:"db_path"`

	// Synchronous overrides PRAGMA synchronous (default NORMAL).
	Synchronous string        `yaml:"synchronous" validate:"omitempty,oneof=OFF NORMAL FULL EXTRA"`
	BusyTimeout time.Duration `yaml:"busy_timeout" validate:"gte=0"`
}

func (c TableConfig) openOptions() []dbopen.Option {
	var opts []dbopen.Option
	if c.Synchronous != "" {
		opts = append(opts, dbopen.WithSynchronous(c.Synchronous))
	}
	if c.BusyTimeout > 0 {
		opts = append(opts, dbopen.WithBusyTimeout(int(c.BusyTimeout.Milliseconds())))
	}
	return opts
}

// FileConfig configures the file backend.
type FileConfig struct {
	Dir string `yaml:"dir"`
}

// AuditConfig controls the audit trail of mutating operations.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
	// DBPath defaults to the table backend database.
	DBPath string `yaml:"db_path"`
}

// StatsConfig controls the statistics surface.
type StatsConfig struct {
	TopFields int `yaml:"top_fields" validate:"gte=0"`
}

func (c *Config) defaults() {
	if c.Backend == "" {
		c.Backend = tablestore.Name
	}
	if c.Table.DBPath == "" {
		c.Table.DBPath = "recsnap.db"
	}
	if c.File.Dir == "" {
		c.File.Dir = "snapshots"
	}
	if c.KV.Dir == "" && !c.KV.InMemory {
		c.KV.Dir = "snapshots.kv"
	}
	if c.LabelPrefix == "" {
		c.LabelPrefix = snapshot.DefaultLabelPrefix
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = time.Hour
	}
	if c.Audit.DBPath == "" {
		c.Audit.DBPath = c.Table.DBPath
	}
	if c.Stats.TopFields <= 0 {
		c.Stats.TopFields = snapshot.DefaultTopFields
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("keeper: invalid config: %w", err)
	}
	fe := verrs[0]
	if fe.StructNamespace() == "Config.Backend" {
		return fmt.Errorf("keeper: unknown backend %q (want table, file, kv or memory)", c.Backend)
	}
	return fmt.Errorf("keeper: invalid config: %s fails %s=%s (got %v)",
		fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("keeper: parse %s: %w", path, err)
	}
	return cfg, nil
}
