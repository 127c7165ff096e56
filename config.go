package duckling

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultChunkSize is the number of rows FetchChunk returns at most when the
// Config does not say otherwise. It matches DuckDB's vector size.
const DefaultChunkSize = 2048

// Config holds the engine options applied when a Database is opened and the
// options of the access layer itself. Zero values leave the engine default in
// place; a nil *Config is the same as an empty one.
type Config struct {
	// AccessMode is automatic, read_only or read_write.
	AccessMode string `yaml:"access_mode"`
	// MaxMemory is a DuckDB size string such as "512MB" or "4GB".
	MaxMemory string `yaml:"max_memory"`
	Threads   int    `yaml:"threads"`

	TempDirectory string `yaml:"temp_directory"`
	// DefaultOrder is asc or desc.
	DefaultOrder string `yaml:"default_order"`
	// DefaultNullOrder is nulls_first or nulls_last.
	DefaultNullOrder string `yaml:"default_null_order"`

	EnableExternalAccess    *bool  `yaml:"enable_external_access"`
	EnableObjectCache       *bool  `yaml:"enable_object_cache"`
	AllowUnsignedExtensions *bool  `yaml:"allow_unsigned_extensions"`
	PreserveInsertionOrder  *bool  `yaml:"preserve_insertion_order"`
	CheckpointThreshold     string `yaml:"checkpoint_threshold"`
	ExtensionDirectory      string `yaml:"extension_directory"`

	// Settings carries any other engine option by its DuckDB name. Named
	// fields above win over an entry for the same option.
	Settings map[string]string `yaml:"settings"`

	// Backend selects the engine binding: "duckdb-go" (default) or "dynamic".
	Backend string `yaml:"backend"`
	// LibraryPath locates libduckdb for the dynamic backend.
	LibraryPath string `yaml:"library_path"`
	// ChunkSize bounds the rows returned by a single FetchChunk.
	ChunkSize int `yaml:"chunk_size"`

	Remote RemoteConfig `yaml:"remote"`
}

// RemoteConfig configures how s3:// and http(s):// database locations are
// fetched.
type RemoteConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	// CacheDir receives downloaded database files; the system temp dir
	// when empty.
	CacheDir string `yaml:"cache_dir"`
}

// DefaultConfig returns a Config with the layer defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		Backend:   BackendDuckDBGo,
		ChunkSize: DefaultChunkSize,
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig, applies
// DUCKLING_* environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies DUCKLING_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DUCKLING_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing DUCKLING_THREADS: %w", err)
		}
		cfg.Threads = n
	}
	if v := os.Getenv("DUCKLING_MAX_MEMORY"); v != "" {
		cfg.MaxMemory = v
	}
	if v := os.Getenv("DUCKLING_ACCESS_MODE"); v != "" {
		cfg.AccessMode = v
	}
	if v := os.Getenv("DUCKLING_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("DUCKLING_LIBRARY"); v != "" {
		cfg.LibraryPath = v
	}
	return nil
}

// Validate checks every option and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.AccessMode {
	case "", "automatic", "read_only", "read_write":
	default:
		errs = append(errs, fmt.Sprintf("access_mode %q must be automatic, read_only or read_write", c.AccessMode))
	}

	switch c.DefaultOrder {
	case "", "asc", "desc":
	default:
		errs = append(errs, fmt.Sprintf("default_order %q must be asc or desc", c.DefaultOrder))
	}

	switch c.DefaultNullOrder {
	case "", "nulls_first", "nulls_last":
	default:
		errs = append(errs, fmt.Sprintf("default_null_order %q must be nulls_first or nulls_last", c.DefaultNullOrder))
	}

	if c.Threads < 0 {
		errs = append(errs, "threads must not be negative")
	}
	if c.ChunkSize < 0 {
		errs = append(errs, "chunk_size must not be negative")
	}

	if c.Backend != "" {
		if _, ok := backends[c.Backend]; !ok {
			errs = append(errs, fmt.Sprintf("backend %q must be %s or %s", c.Backend, BackendDuckDBGo, BackendDynamic))
		}
	}

	for name := range c.Settings {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, "settings contains an empty option name")
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) backend() string {
	if c == nil || c.Backend == "" {
		return BackendDuckDBGo
	}
	return c.Backend
}

func (c *Config) chunkSize() int {
	if c == nil || c.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return c.ChunkSize
}

// engineOptions flattens the config into DuckDB option names and values.
func (c *Config) engineOptions() map[string]string {
	opts := make(map[string]string)
	if c == nil {
		return opts
	}

	for k, v := range c.Settings {
		opts[k] = v
	}

	set := func(name, value string) {
		if value != "" {
			opts[name] = value
		}
	}
	setBool := func(name string, value *bool) {
		if value != nil {
			opts[name] = strconv.FormatBool(*value)
		}
	}

	set("access_mode", c.AccessMode)
	set("max_memory", c.MaxMemory)
	if c.Threads > 0 {
		opts["threads"] = strconv.Itoa(c.Threads)
	}
	set("temp_directory", c.TempDirectory)
	set("default_order", c.DefaultOrder)
	set("default_null_order", c.DefaultNullOrder)
	setBool("enable_external_access", c.EnableExternalAccess)
	setBool("enable_object_cache", c.EnableObjectCache)
	setBool("allow_unsigned_extensions", c.AllowUnsignedExtensions)
	setBool("preserve_insertion_order", c.PreserveInsertionOrder)
	set("checkpoint_threshold", c.CheckpointThreshold)
	set("extension_directory", c.ExtensionDirectory)

	return opts
}

// optionNames returns the keys of opts in a stable order.
func optionNames(opts map[string]string) []string {
	names := make([]string, 0, len(opts))
	for k := range opts {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// dsn builds the connection string understood by duckdb-go: the database
// path followed by the engine options as query parameters.
func (c *Config) dsn(path string) string {
	if path == Memory {
		path = ""
	}
	opts := c.engineOptions()
	if len(opts) == 0 {
		return path
	}
	q := url.Values{}
	for _, name := range optionNames(opts) {
		q.Set(name, opts[name])
	}
	return path + "?" + q.Encode()
}
