package tuf

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// EnvConfig is the subset of UpdaterConfig that makes sense to source from
// the environment, for deployments that want to override defaults without
// recompiling — root bytes and the Fetcher/Cache wiring are always
// constructed in code.
type EnvConfig struct {
	MetadataBaseURL    string        `envconfig:"tuf_metadata_url" required:"true"`
	TargetsBaseURL     string        `envconfig:"tuf_targets_url" required:"true"`
	CacheDir           string        `envconfig:"tuf_cache_dir" default:"/var/cache/tuf"`
	DisableLocalCache  bool          `envconfig:"tuf_disable_local_cache" default:"false"`
	ConsistentSnapshot bool          `envconfig:"tuf_consistent_snapshot" default:"true"`
	MaxRetries         int           `envconfig:"tuf_max_retries" default:"3"`
	RequestTimeout     time.Duration `envconfig:"tuf_request_timeout" default:"30s"`
}

// LoadEnvConfig reads EnvConfig from the process environment, e.g.
// TUF_METADATA_URL, TUF_TARGETS_URL. The struct tags already carry the full
// variable name, so Process is called with an empty prefix; a non-empty
// prefix here would prepend a second "TUF_" ahead of each tag's own.
func LoadEnvConfig() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, ConfigurationError{Msg: errors.Wrap(err, "loading environment configuration").Error()}
	}
	return cfg, nil
}
