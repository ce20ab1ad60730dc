package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.APIBind == "" {
		return errors.New("paths.api_bind must be set")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if c.Separation.Binary == "" {
		return errors.New("separation.binary must be set")
	}
	if c.Conversion.Binary == "" {
		return errors.New("conversion.binary must be set")
	}
	if c.Mixing.Binary == "" {
		return errors.New("mixing.binary must be set")
	}
	if c.Uploads.MaxSizeMiB <= 0 {
		return errors.New("uploads.max_size_mib must be positive")
	}
	return nil
}
