package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/tailer"
)

// EnvPrefix is the prefix of the environment variables read by the CLI,
// e.g. XREPOSYNC_DB or XREPOSYNC_TAIL_SLEEP.
const EnvPrefix = "XREPOSYNC"

// JobConfig is the configuration of one sync or validation job, merged
// from the config file, the environment and the command line.
type JobConfig struct {
	DB                     string     `mapstructure:"db"`
	SourceRepoID           int64      `mapstructure:"source_repo_id"`
	TargetRepoID           int64      `mapstructure:"target_repo_id"`
	SyncConfig             string     `mapstructure:"sync_config"`
	PushrebaseRewriteDates bool       `mapstructure:"pushrebase_rewrite_dates"`
	MetricsAddr            string     `mapstructure:"metrics_addr"`
	Tail                   TailConfig `mapstructure:"tail"`
}

// TailConfig configures tail mode.
type TailConfig struct {
	Sleep         time.Duration `mapstructure:"sleep"`
	BatchSize     int           `mapstructure:"batch_size"`
	CatchUpOnce   bool          `mapstructure:"catch_up_once"`
	BookmarkRegex string        `mapstructure:"bookmark_regex"`
}

// flagKeys maps command line flags to config keys. A command binds the
// flags it declares when its job config is loaded.
var flagKeys = map[string]string{
	"db":                       "db",
	"source-repo-id":           "source_repo_id",
	"target-repo-id":           "target_repo_id",
	"sync-config":              "sync_config",
	"pushrebase-rewrite-dates": "pushrebase_rewrite_dates",
	"metrics-addr":             "metrics_addr",
	"sleep":                    "tail.sleep",
	"batch-size":               "tail.batch_size",
	"catch-up-once":            "tail.catch_up_once",
	"bookmark-regex":           "tail.bookmark_regex",
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key so that environment variables are seen
// by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db", "")
	v.SetDefault("source_repo_id", -1)
	v.SetDefault("target_repo_id", -1)
	v.SetDefault("sync_config", "")
	v.SetDefault("pushrebase_rewrite_dates", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("tail.sleep", tailer.DefaultSleep)
	v.SetDefault("tail.batch_size", tailer.DefaultBatchSize)
	v.SetDefault("tail.catch_up_once", false)
	v.SetDefault("tail.bookmark_regex", "")
}

// readConfigFile loads path into v. With no path, ./xreposync.yaml is read
// if it exists.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("xreposync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// bindFlags binds the flags of fs that have a config key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("bind flag --%s: %w", f.Name, bindErr)
		}
	})
	return err
}

// loadJobConfig unmarshals v into a JobConfig.
func loadJobConfig(v *viper.Viper) (*JobConfig, error) {
	var cfg JobConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every job needs.
func (c *JobConfig) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("db is required")
	}
	if c.SyncConfig == "" {
		return fmt.Errorf("sync_config is required")
	}
	return nil
}

// ValidatePair checks the settings of a sync job.
func (c *JobConfig) ValidatePair() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.SourceRepoID < 0 {
		return fmt.Errorf("source_repo_id is required")
	}
	if c.TargetRepoID < 0 {
		return fmt.Errorf("target_repo_id is required")
	}
	if c.SourceRepoID == c.TargetRepoID {
		return fmt.Errorf("source_repo_id and target_repo_id must differ, both are %d", c.SourceRepoID)
	}
	return nil
}

// Source returns the source repo id.
func (c *JobConfig) Source() model.RepositoryID { return model.RepositoryID(c.SourceRepoID) }

// Target returns the target repo id.
func (c *JobConfig) Target() model.RepositoryID { return model.RepositoryID(c.TargetRepoID) }

// TailerConfig converts the tail settings.
func (c *JobConfig) TailerConfig() (tailer.Config, error) {
	if c.Tail.BatchSize <= 0 {
		return tailer.Config{}, fmt.Errorf("tail.batch_size must be positive, got %d", c.Tail.BatchSize)
	}
	if c.Tail.Sleep < 0 {
		return tailer.Config{}, fmt.Errorf("tail.sleep must not be negative, got %s", c.Tail.Sleep)
	}
	cfg := tailer.Config{
		BatchSize:   c.Tail.BatchSize,
		Sleep:       c.Tail.Sleep,
		CatchUpOnce: c.Tail.CatchUpOnce,
	}
	if c.Tail.BookmarkRegex != "" {
		re, err := regexp.Compile(c.Tail.BookmarkRegex)
		if err != nil {
			return tailer.Config{}, fmt.Errorf("tail.bookmark_regex: %w", err)
		}
		cfg.BookmarkRegex = re
	}
	return cfg, nil
}
