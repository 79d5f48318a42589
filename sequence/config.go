package sequence

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "FLAKE"

	KeyNode               = "node"
	KeyDataDir            = "data_dir"
	KeyNodeCIDR           = "node_cidr"
	KeyPodIP              = "pod_ip"
	KeyCheckpointInterval = "checkpoint_interval"
	KeyMaxSegmentRecords  = "max_segment_records"

	PageFileName = "pages.db"
	WALDirName   = "wal"

	DefaultCheckpointInterval = 5 * time.Minute
)

var (
	ErrBadConfig = errors.New("the engine configuration is invalid")
)

type Config struct {
	// DataDir holds the page file and, unless another store is provided,
	// the durability log segments.
	DataDir string

	// Snowflake configures the initial node identity. The node may be set
	// later through Settings.
	Snowflake snowflakeid.Config

	// CheckpointInterval is the period of the background checkpointer. Zero
	// disables it.
	CheckpointInterval time.Duration

	MaxSegmentRecords int
}

func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		Snowflake:          snowflakeid.DefaultConfig(),
		CheckpointInterval: DefaultCheckpointInterval,
	}
}

func (c Config) PageFilePath() string {
	return filepath.Join(c.DataDir, PageFileName)
}

func (c Config) WALDir() string {
	return filepath.Join(c.DataDir, WALDirName)
}

// NewViper returns a viper instance that reads the engine configuration from
// FLAKE_ prefixed environment variables, eg FLAKE_DATA_DIR.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	for _, key := range []string{KeyNode, KeyDataDir, KeyNodeCIDR, KeyPodIP, KeyCheckpointInterval, KeyMaxSegmentRecords} {
		_ = v.BindEnv(key)
	}
	v.SetDefault(KeyNode, "")
	v.SetDefault(KeyCheckpointInterval, DefaultCheckpointInterval.String())
	return v
}

// ConfigFromEnv reads the configuration from the environment.
func ConfigFromEnv() (Config, error) {
	return ConfigFromViper(NewViper())
}

// ConfigFromViper reads the configuration keys from v. Callers may bind
// command line flags to the same keys.
func ConfigFromViper(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig(v.GetString(KeyDataDir))
	cfg.Snowflake.WorkerCIDR = v.GetString(KeyNodeCIDR)
	cfg.Snowflake.PodIP = v.GetString(KeyPodIP)

	if s := v.GetString(KeyNode); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Config{}, fmt.Errorf("%s %q: %v: %w", KeyNode, s, err, ErrBadConfig)
		}
		if n < 0 || n > snowflakeid.MaxNode {
			return Config{}, fmt.Errorf("%s %d: %w", KeyNode, n, snowflakeid.ErrNodeRange)
		}
		cfg.Snowflake.Node = snowflakeid.NodeID(n)
	}

	if s := v.GetString(KeyCheckpointInterval); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return Config{}, fmt.Errorf("%s %q: %v: %w", KeyCheckpointInterval, s, err, ErrBadConfig)
		}
		cfg.CheckpointInterval = d
	}

	if s := v.GetString(KeyMaxSegmentRecords); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("%s %q: %w", KeyMaxSegmentRecords, s, ErrBadConfig)
		}
		cfg.MaxSegmentRecords = n
	}

	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("%s is required: %w", KeyDataDir, ErrBadConfig)
	}
	return cfg, nil
}
