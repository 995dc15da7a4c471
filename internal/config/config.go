// Package config loads the backup configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/pathutil"
	"github.com/kiwitech/pterobackup/internal/validation"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "config.json"

// Storage backends.
const (
	BackendGCS   = "gcs"
	BackendS3    = "s3"
	BackendAzure = "azure"
)

// Config is the JSON configuration for one installation.
//
// Example:
//
//	{
//	  "server_name": "KiwiTech",
//	  "gcs_credentials": "service-account.json",
//	  "bucket_name": "kiwitech-backups",
//	  "volumes_path": "/var/lib/pterodactyl/volumes",
//	  "smp_uuid": "1c2d...",
//	  "cmp_uuid": "9f8e..."
//	}
type Config struct {
	ServerName     string `json:"server_name"`
	GCSCredentials string `json:"gcs_credentials"`
	BucketName     string `json:"bucket_name"`
	VolumesPath    string `json:"volumes_path"`
	SmpUUID        string `json:"smp_uuid"`
	CmpUUID        string `json:"cmp_uuid"`

	// Backend is gcs (default), s3 or azure.
	Backend string `json:"backend,omitempty"`
	// OutputDir is where the archive is written before upload. Default ".".
	OutputDir string `json:"output_dir,omitempty"`
	// LogFile enables a rotating JSON log file.
	LogFile string `json:"log_file,omitempty"`
	// CompressionLevel is the gzip level, -1 (default) through 9.
	CompressionLevel *int `json:"compression_level,omitempty"`
	// Retries is the number of HTTP retries. Zero keeps the fail-fast behavior.
	Retries int `json:"retries,omitempty"`
	// StorageEndpoint overrides the GCS upload base URL (emulators, tests).
	StorageEndpoint string `json:"storage_endpoint,omitempty"`
	// ProxyURL forces an HTTP(S) proxy; otherwise the environment is used.
	ProxyURL string `json:"proxy_url,omitempty"`

	S3    *S3Config    `json:"s3,omitempty"`
	Azure *AzureConfig `json:"azure,omitempty"`
}

// S3Config holds settings for the s3 backend.
type S3Config struct {
	Region string `json:"region"`
	// Endpoint targets an S3-compatible store (MinIO, R2) with path-style addressing.
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// AzureConfig holds settings for the azure backend.
type AzureConfig struct {
	// ServiceURL is the blob service URL including a SAS token.
	ServiceURL string `json:"service_url"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config("failed to read config file", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, apperr.Config("failed to parse config file", err)
	}

	cfg.applyDefaults()
	if err := cfg.expandPaths(); err != nil {
		return nil, apperr.Config("invalid config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperr.Config("invalid config file", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendGCS
	}
	c.Backend = strings.ToLower(c.Backend)
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
}

// expandPaths expands a leading ~ in every path field.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.GCSCredentials, &c.VolumesPath, &c.OutputDir, &c.LogFile} {
		expanded, err := pathutil.ExpandHome(*p)
		if err != nil {
			return fmt.Errorf("failed to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error

	required := []struct {
		name, value string
	}{
		{"server_name", c.ServerName},
		{"bucket_name", c.BucketName},
		{"volumes_path", c.VolumesPath},
		{"smp_uuid", c.SmpUUID},
		{"cmp_uuid", c.CmpUUID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}

	// These become single path segments of the archive, the object or the
	// volume path.
	for _, seg := range []struct{ name, value string }{
		{"server_name", c.ServerName},
		{"smp_uuid", c.SmpUUID},
		{"cmp_uuid", c.CmpUUID},
	} {
		if seg.value == "" {
			continue
		}
		if err := validation.ValidateFilename(seg.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", seg.name, err))
		}
	}

	switch c.Backend {
	case BackendGCS:
		if c.GCSCredentials == "" {
			errs = append(errs, fmt.Errorf("gcs_credentials is required for the gcs backend"))
		}
	case BackendS3:
		if c.S3 == nil || c.S3.Region == "" {
			errs = append(errs, fmt.Errorf("s3.region is required for the s3 backend"))
		}
	case BackendAzure:
		if c.Azure == nil || c.Azure.ServiceURL == "" {
			errs = append(errs, fmt.Errorf("azure.service_url is required for the azure backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (expected gcs, s3 or azure)", c.Backend))
	}

	if c.CompressionLevel != nil && (*c.CompressionLevel < -1 || *c.CompressionLevel > 9) {
		errs = append(errs, fmt.Errorf("compression_level must be between -1 and 9, got %d", *c.CompressionLevel))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative"))
	}

	return errors.Join(errs...)
}

// VolumeID returns the volume identifier configured for server.
func (c *Config) VolumeID(server ServerType) (string, error) {
	switch server {
	case ServerSmp:
		return c.SmpUUID, nil
	case ServerCmp:
		return c.CmpUUID, nil
	default:
		return "", apperr.Config("unknown server type", fmt.Errorf("%s", server))
	}
}

// VolumePath returns {volumes_path}/{volume id} for server.
func (c *Config) VolumePath(server ServerType) (string, error) {
	id, err := c.VolumeID(server)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.VolumesPath, id), nil
}

// Compression returns the configured gzip level, or -1 for the default.
func (c *Config) Compression() int {
	if c.CompressionLevel == nil {
		return -1
	}
	return *c.CompressionLevel
}
