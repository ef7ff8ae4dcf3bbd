// Package config loads clonefreq settings from a YAML file and CLONEFREQ_*
// environment variables. Command-line flags are applied by the caller last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"clonefreq/internal/blob"
	"clonefreq/internal/core"
	"clonefreq/internal/infra/persistence/mongo"
	"clonefreq/internal/sink"
	"clonefreq/pkg/domain"
)

// DefaultLogName is the log file written to the output directory.
const DefaultLogName = "immds_freq.log"

// Config is the full set of run settings.
type Config struct {
	Storage Storage        `yaml:"storage"`
	Output  Output         `yaml:"output"`
	Run     Run            `yaml:"run"`
	Studies []domain.Study `yaml:"studies"`
	Log     Log            `yaml:"log"`
	Metrics Metrics        `yaml:"metrics"`
}

// Storage selects the repository backend.
type Storage struct {
	Driver         string        `yaml:"driver"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database"`
	URI            string        `yaml:"uri"`
	SQLitePath     string        `yaml:"sqlite_path"`
	PostgresDSN    string        `yaml:"postgres_dsn"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Output selects where frequency records go.
type Output struct {
	Sink       string        `yaml:"sink"`
	Dir        string        `yaml:"dir"`
	Filename   string        `yaml:"filename"`
	Format     string        `yaml:"format"`
	Overwrite  bool          `yaml:"overwrite"`
	BlobDriver string        `yaml:"blob_driver"`
	S3         blob.S3Config `yaml:"s3"`
}

// Run holds the per-run parameters.
type Run struct {
	StudyID      string           `yaml:"study_id"`
	CancerTypeID string           `yaml:"cancer_type_id"`
	BatchSize    int              `yaml:"batch_size"`
	MaxWorkers   int              `yaml:"max_workers"`
	Retry        core.RetryPolicy `yaml:"retry"`
}

// Log configures the file and console log outputs.
type Log struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// Metrics configures the end-of-run textfile export.
type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Storage: Storage{
			Driver:         string(core.StorageMongo),
			Host:           "localhost",
			Port:           27017,
			Database:       "immds",
			ConnectTimeout: 10 * time.Second,
		},
		Output: Output{
			Sink:       string(sink.KindStore),
			Dir:        ".",
			Filename:   sink.DefaultBase,
			Format:     string(sink.FormatStatements),
			BlobDriver: string(blob.DriverFilesystem),
		},
		Run: Run{
			BatchSize: core.DefaultBatchSize,
			Retry:     core.DefaultRetryPolicy(),
		},
		Log: Log{Level: "info", Console: true},
	}
}

// Load reads path (optional) over the defaults, then applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(bytes.NewReader(raw)); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays CLONEFREQ_* variables that are set.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"CLONEFREQ_STORAGE_DRIVER": &c.Storage.Driver,
		"CLONEFREQ_MONGO_HOST":     &c.Storage.Host,
		"CLONEFREQ_MONGO_USER":     &c.Storage.User,
		"CLONEFREQ_MONGO_PASSWORD": &c.Storage.Password,
		"CLONEFREQ_MONGO_DATABASE": &c.Storage.Database,
		"CLONEFREQ_MONGO_URI":      &c.Storage.URI,
		"CLONEFREQ_SQLITE_PATH":    &c.Storage.SQLitePath,
		"CLONEFREQ_POSTGRES_DSN":   &c.Storage.PostgresDSN,
		"CLONEFREQ_OUTPUT_SINK":    &c.Output.Sink,
		"CLONEFREQ_OUTPUT_DIR":     &c.Output.Dir,
		"CLONEFREQ_OUTPUT_FORMAT":  &c.Output.Format,
		"CLONEFREQ_STUDY_ID":       &c.Run.StudyID,
		"CLONEFREQ_CANCER_TYPE_ID": &c.Run.CancerTypeID,
		"CLONEFREQ_LOG_LEVEL":      &c.Log.Level,
		"CLONEFREQ_METRICS_FILE":   &c.Metrics.Textfile,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"CLONEFREQ_MONGO_PORT":  &c.Storage.Port,
		"CLONEFREQ_BATCH_SIZE":  &c.Run.BatchSize,
		"CLONEFREQ_MAX_WORKERS": &c.Run.MaxWorkers,
	}
	for name, dst := range ints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}
	b := c.BlobConfig().ApplyEnv()
	c.Output.BlobDriver = string(b.Driver)
	c.Output.Dir = b.Root
	c.Output.S3 = b.S3
	return nil
}

// Validate rejects settings a run cannot start with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Run.StudyID) == "" {
		problems = append(problems, "study id required")
	}
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMongo, core.StoragePostgres, core.StorageSQLite, core.StorageMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Storage.Port < 0 || c.Storage.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d", c.Storage.Port))
	}
	kind, err := sink.ParseKind(c.Output.Sink)
	if err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := sink.ParseFormat(c.Output.Format); err != nil {
		problems = append(problems, err.Error())
	}
	switch blob.Driver(c.Output.BlobDriver) {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if kind == sink.KindFile && c.Output.S3.Bucket == "" {
			problems = append(problems, "s3 bucket required for blob driver s3")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown blob driver %q", c.Output.BlobDriver))
	}
	if c.Run.BatchSize < 0 {
		problems = append(problems, "batch size must not be negative")
	}
	if c.Run.MaxWorkers < 0 {
		problems = append(problems, "max workers must not be negative")
	}
	if c.Run.Retry.Attempts < 0 || c.Run.Retry.Backoff < 0 {
		problems = append(problems, "retry attempts and backoff must not be negative")
	}
	for _, s := range c.Studies {
		if _, err := domain.NewStudy(s.ID, s.ChainCollection, s.FrequencyCollection); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LogFile returns the configured log path or the default inside the output directory.
func (c Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.Output.Dir, DefaultLogName)
}

// StorageOptions converts the storage section for core.OpenRepository.
func (c Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver: core.StorageDriver(c.Storage.Driver),
		Mongo: mongo.Options{
			Host:           c.Storage.Host,
			Port:           c.Storage.Port,
			User:           c.Storage.User,
			Password:       c.Storage.Password,
			Database:       c.Storage.Database,
			URI:            c.Storage.URI,
			ConnectTimeout: c.Storage.ConnectTimeout,
		},
		SQLitePath:     c.Storage.SQLitePath,
		PostgresDSN:    c.Storage.PostgresDSN,
		ConnectTimeout: c.Storage.ConnectTimeout,
	}
}

// BlobConfig converts the output section for blob.Open. The filesystem root is
// the output directory.
func (c Config) BlobConfig() blob.Config {
	return blob.Config{Driver: blob.Driver(c.Output.BlobDriver), Root: c.Output.Dir, S3: c.Output.S3}
}

// FileOptions converts the output section for sink.NewFileSink.
func (c Config) FileOptions() sink.FileOptions {
	return sink.FileOptions{Base: c.Output.Filename, Format: sink.Format(c.Output.Format), Overwrite: c.Output.Overwrite}
}

// RunParams converts the run section for Service.Run.
func (c Config) RunParams() core.RunParams {
	return core.RunParams{
		StudyID:      c.Run.StudyID,
		CancerTypeID: c.Run.CancerTypeID,
		BatchSize:    c.Run.BatchSize,
		MaxWorkers:   c.Run.MaxWorkers,
	}
}

// Registry returns the built-in studies plus the configured ones.
func (c Config) Registry() (*domain.StudyRegistry, error) {
	reg := domain.NewStudyRegistry()
	for _, s := range c.Studies {
		study, err := domain.NewStudy(s.ID, s.ChainCollection, s.FrequencyCollection)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(study); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
