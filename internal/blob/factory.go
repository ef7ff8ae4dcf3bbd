package blob

import (
	"context"
	"fmt"
	"os"
)

// Config selects and configures the blob backend batch outputs are written to.
type Config struct {
	Driver Driver   `yaml:"driver"`
	Root   string   `yaml:"root"` // driver=fs; defaults to the output directory
	S3     S3Config `yaml:"s3"`
}

// ApplyEnv overlays environment variables that are set.
//
//	CLONEFREQ_BLOB_DRIVER: fs|s3|memory (default fs)
//	CLONEFREQ_BLOB_FS_ROOT: directory root when driver=fs
//	(S3 specific variables documented in infra/blob/s3)
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("CLONEFREQ_BLOB_DRIVER"); v != "" {
		c.Driver = Driver(v)
	}
	if v := os.Getenv("CLONEFREQ_BLOB_FS_ROOT"); v != "" {
		c.Root = v
	}
	c.S3 = c.S3.ApplyEnv()
	return c
}

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
