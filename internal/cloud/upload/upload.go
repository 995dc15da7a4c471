// Package upload streams a finished archive to the configured object store.
package upload

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/cloud"
	"github.com/kiwitech/pterobackup/internal/cloud/credentials"
	"github.com/kiwitech/pterobackup/internal/config"
	internalhttp "github.com/kiwitech/pterobackup/internal/http"
	"github.com/kiwitech/pterobackup/internal/logging"
	"github.com/kiwitech/pterobackup/internal/progress"
)

// ReporterFactory creates the progress reporter for one upload.
type ReporterFactory func() progress.Reporter

// ObjectName returns the remote key for an archive:
// {serverName}/{TYPE}/{fileName}.
func ObjectName(serverName string, server config.ServerType, fileName string) string {
	return path.Join(serverName, server.Upper(), fileName)
}

// NewDestination builds the destination selected by cfg.Backend. reporters
// creates the progress reporter for each upload; nil shows a bar when stderr
// is a terminal.
func NewDestination(ctx context.Context, cfg *config.Config, logger *logging.Logger, reporters ReporterFactory) (cloud.Destination, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	switch cfg.Backend {
	case config.BackendGCS, "":
		tokenClient, err := internalhttp.NewClient(cfg, logger)
		if err != nil {
			return nil, apperr.Config("failed to create HTTP client", err)
		}
		uploadClient, err := internalhttp.NewClient(cfg, logger)
		if err != nil {
			return nil, apperr.Config("failed to create HTTP client", err)
		}
		auth := credentials.NewAuthenticator(tokenClient, logger)
		dest := NewGCSDestination(cfg, auth, uploadClient, logger)
		dest.NewReporter = reporters
		return dest, nil

	case config.BackendS3:
		httpClient, err := internalhttp.NewStandardClient(cfg)
		if err != nil {
			return nil, apperr.Config("failed to create HTTP client", err)
		}
		dest, err := NewS3Destination(ctx, cfg, httpClient, logger)
		if err != nil {
			return nil, err
		}
		dest.NewReporter = reporters
		return dest, nil

	case config.BackendAzure:
		httpClient, err := internalhttp.NewStandardClient(cfg)
		if err != nil {
			return nil, apperr.Config("failed to create HTTP client", err)
		}
		dest, err := NewAzureDestination(cfg, httpClient, logger)
		if err != nil {
			return nil, err
		}
		dest.NewReporter = reporters
		return dest, nil

	default:
		return nil, apperr.Config("invalid config file", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}

// openArchive opens localPath for streaming and returns its size.
func openArchive(localPath string) (*os.File, int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, 0, apperr.IO("failed to open archive", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, apperr.IO("failed to stat archive", err)
	}
	return file, info.Size(), nil
}

func newReporter(factory ReporterFactory) progress.Reporter {
	if factory == nil {
		return progress.NewUploadReporter()
	}
	return factory()
}
