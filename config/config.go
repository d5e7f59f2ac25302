// Package config loads the rule-compilation run configuration from YAML.
package config

import (
	"io/ioutil"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultLinesOfCrcCompile = 30
const DefaultMaxWidthTextDifference = 500
const DefaultPreviewStartEndRatio = 0.5
const DefaultLostJobGrace = 30 * time.Second        // How long a vanished job may stay silent before its tests are failed.
const DefaultLostJobPollInterval = 10 * time.Second // How often running jobs are checked against the queue.
const DefaultKillGrace = 5 * time.Second            // How long a local job gets between SIGTERM and SIGKILL.

// DefaultRaveNameKey is used when rave_name has no entry for the current product.
const DefaultRaveNameKey = "default"

// Config holds everything read from the run configuration file.
//
// RaveName - flavours to compile for, keyed by product ("default" as fallback)
// RaveStaticLibrary - static library whose mtime invalidates compiled rule-sets, may contain $CARMSYS
// LinesOfCrcCompile, MaxWidthTextDifference, PreviewStartEndRatio - compiler log preview budget
// BuildTargets - make targets per build directory, used by --build
// AllowInvalidRulesets - skip rule-sets with a missing source instead of failing the test
// QueueSystem - name of the queue backend ("local", "sge", "lsf")
// ServerAddress - where the worker request server listens
// *Ms - durations in milliseconds, 0 means the default (or unlimited for WallclockLimitMs)
type Config struct {
	RaveName               map[string][]string `yaml:"rave_name"`
	RaveStaticLibrary      string              `yaml:"rave_static_library"`
	LinesOfCrcCompile      int                 `yaml:"lines_of_crc_compile"`
	MaxWidthTextDifference int                 `yaml:"max_width_text_difference"`
	PreviewStartEndRatio   float64             `yaml:"preview_start_end_ratio"`
	BuildTargets           map[string][]string `yaml:"build_targets"`
	AllowInvalidRulesets   bool                `yaml:"allow_invalid_rulesets"`
	DefaultArchitecture    string              `yaml:"default_architecture"`
	DefaultMajorRelease    string              `yaml:"default_major_release"`

	QueueSystem          string  `yaml:"queue_system"`
	QueueName            string  `yaml:"queue_name"`
	ServerAddress        string  `yaml:"server_address"`
	MaxConnections       int     `yaml:"max_connections"`
	ConnectionsPerSecond float64 `yaml:"connections_per_second"`
	SubmissionsPerSecond float64 `yaml:"submissions_per_second"`
	RemoteCmdPath        string  `yaml:"remotecmd_path"`

	LostJobGraceMs        int `yaml:"lost_job_grace_ms"`
	LostJobPollIntervalMs int `yaml:"lost_job_poll_interval_ms"`
	KillGraceMs           int `yaml:"kill_grace_ms"`
	WallclockLimitMs      int `yaml:"wallclock_limit_ms"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		RaveName:               map[string][]string{},
		BuildTargets:           map[string][]string{},
		LinesOfCrcCompile:      DefaultLinesOfCrcCompile,
		MaxWidthTextDifference: DefaultMaxWidthTextDifference,
		PreviewStartEndRatio:   DefaultPreviewStartEndRatio,
		AllowInvalidRulesets:   true,
		DefaultArchitecture:    "x86_64_linux",
		QueueSystem:            "local",
		ServerAddress:          ":0",
		MaxConnections:         64,
		ConnectionsPerSecond:   100,
	}
}

// Load overlays the YAML file at path on the defaults. A missing path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithFields(log.Fields{"path": path}).Info("No config file found, using defaults")
			return cfg, nil
		}
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "loading config from %s", path)
	}
	log.WithFields(log.Fields{"path": path, "queue": cfg.QueueSystem}).Info("Loaded configuration")
	return cfg, nil
}

// Parse overlays YAML data on cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if c.LinesOfCrcCompile <= 0 {
		return errors.Errorf("lines_of_crc_compile must be positive, got %d", c.LinesOfCrcCompile)
	}
	if c.MaxWidthTextDifference <= 0 {
		return errors.Errorf("max_width_text_difference must be positive, got %d", c.MaxWidthTextDifference)
	}
	if c.PreviewStartEndRatio < 0 || c.PreviewStartEndRatio > 1 {
		return errors.Errorf("preview_start_end_ratio must be within [0,1], got %v", c.PreviewStartEndRatio)
	}
	if c.QueueSystem == "" {
		return errors.New("queue_system must be set")
	}
	return nil
}

// RaveNames returns the flavours configured for product, falling back to the default entry.
func (c *Config) RaveNames(product string) []string {
	if names, ok := c.RaveName[product]; ok && product != "" {
		return names
	}
	return c.RaveName[DefaultRaveNameKey]
}

// BasicRaveName is the first default rave_name entry; compile job names use it.
func (c *Config) BasicRaveName() string {
	if names := c.RaveName[DefaultRaveNameKey]; len(names) > 0 {
		return names[0]
	}
	return ""
}

// BuildDirectories returns the configured build directories in a stable order.
func (c *Config) BuildDirectories() []string {
	dirs := make([]string, 0, len(c.BuildTargets))
	for dir := range c.BuildTargets {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

func (c *Config) LostJobGrace() time.Duration {
	return msOrDefault(c.LostJobGraceMs, DefaultLostJobGrace)
}

func (c *Config) LostJobPollInterval() time.Duration {
	return msOrDefault(c.LostJobPollIntervalMs, DefaultLostJobPollInterval)
}

func (c *Config) KillGrace() time.Duration {
	return msOrDefault(c.KillGraceMs, DefaultKillGrace)
}

// WallclockLimit is zero when runs are unlimited.
func (c *Config) WallclockLimit() time.Duration {
	return time.Duration(c.WallclockLimitMs) * time.Millisecond
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
