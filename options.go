package edoc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultCatalogCacheSize = 256
	defaultMaxSortDocs      = 100_000
	defaultTimeout          = 10 * time.Second
)

type Options struct {
	Logger *zap.Logger

	// Verbose logs every mutation at debug level.
	Verbose bool

	// IsTesting trades durability for speed and turns on extra consistency checks.
	IsTesting bool

	MmapSize int
	InMemory bool
	ReadOnly bool

	// Timeout is how long Open waits for the file lock.
	Timeout time.Duration

	CatalogCacheSize int

	// MaxSortDocs bounds the number of documents a sorted cursor buffers.
	MaxSortDocs int

	// Registerer receives the database metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// Extractors override key extraction for individual indexes. Indexes
	// with a custom extractor are never picked by the planner.
	Extractors map[IndexRef]KeyExtractor
}

// IndexRef names an index of a collection.
type IndexRef struct {
	Coll  string
	Index string
}

func (opt *Options) setDefaults() {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Timeout == 0 {
		opt.Timeout = defaultTimeout
	}
	if opt.CatalogCacheSize <= 0 {
		opt.CatalogCacheSize = defaultCatalogCacheSize
	}
	if opt.MaxSortDocs <= 0 {
		opt.MaxSortDocs = defaultMaxSortDocs
	}
}

// LoadOptions reads the scalar options from a config file (any format viper
// understands; empty path skips the file) overlaid with EDOC_* environment
// variables, e.g. EDOC_MMAP_SIZE or EDOC_MAX_SORT_DOCS.
func LoadOptions(path string) (Options, error) {
	v := viper.New()
	v.SetEnvPrefix("edoc")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("verbose", false)
	v.SetDefault("is_testing", false)
	v.SetDefault("mmap_size", 0)
	v.SetDefault("in_memory", false)
	v.SetDefault("read_only", false)
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("catalog_cache_size", defaultCatalogCacheSize)
	v.SetDefault("max_sort_docs", defaultMaxSortDocs)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Options{}, fmt.Errorf("edoc: loading %s: %w", path, err)
			}
		}
	}

	return Options{
		Verbose:          v.GetBool("verbose"),
		IsTesting:        v.GetBool("is_testing"),
		MmapSize:         v.GetInt("mmap_size"),
		InMemory:         v.GetBool("in_memory"),
		ReadOnly:         v.GetBool("read_only"),
		Timeout:          v.GetDuration("timeout"),
		CatalogCacheSize: v.GetInt("catalog_cache_size"),
		MaxSortDocs:      v.GetInt("max_sort_docs"),
	}, nil
}
