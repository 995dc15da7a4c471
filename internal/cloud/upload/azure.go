package upload

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/dustin/go-humanize"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/config"
	"github.com/kiwitech/pterobackup/internal/constants"
	"github.com/kiwitech/pterobackup/internal/logging"
)

// AzureDestination uploads to a blob container through a SAS service URL.
// The bucket name is used as the container.
type AzureDestination struct {
	Container  string
	ServiceURL string

	// NewReporter creates the progress reporter; nil means a terminal bar
	// when stderr is a TTY.
	NewReporter ReporterFactory

	client *azblob.Client
	logger *logging.Logger
}

// NewAzureDestination creates an Azure destination for cfg.Azure.ServiceURL.
func NewAzureDestination(cfg *config.Config, httpClient *nethttp.Client, logger *logging.Logger) (*AzureDestination, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Azure == nil || cfg.Azure.ServiceURL == "" {
		return nil, apperr.Config("invalid config file", errors.New("azure.service_url is required for the azure backend"))
	}

	// azcore treats 0 as "use the default"; a negative value means one try.
	maxRetries := int32(cfg.Retries)
	if maxRetries == 0 {
		maxRetries = -1
	}

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: maxRetries},
		},
	}
	if httpClient != nil {
		opts.ClientOptions.Transport = httpClient
	}

	client, err := azblob.NewClientWithNoCredential(cfg.Azure.ServiceURL, opts)
	if err != nil {
		return nil, apperr.Config("failed to create Azure client", err)
	}

	return &AzureDestination{
		Container:  cfg.BucketName,
		ServiceURL: cfg.Azure.ServiceURL,
		client:     client,
		logger:     logger,
	}, nil
}

// Name returns "azure".
func (d *AzureDestination) Name() string {
	return config.BackendAzure
}

// Authorize checks that the service URL carries a SAS signature. The SAS is
// the only credential, so there is nothing to exchange.
func (d *AzureDestination) Authorize(ctx context.Context) error {
	u, err := url.Parse(d.ServiceURL)
	if err != nil {
		return apperr.Config("invalid azure service_url", err)
	}
	if u.Host == "" {
		return apperr.Config("invalid azure service_url", errors.New("missing host"))
	}
	if u.Query().Get("sig") == "" {
		return apperr.Config("invalid azure service_url", errors.New("missing SAS signature"))
	}
	return nil
}

// Upload streams localPath as a block blob. The SDK splits it into
// AzureBlockSize blocks and reports cumulative bytes through Progress.
func (d *AzureDestination) Upload(ctx context.Context, localPath, objectName string) error {
	file, size, err := openArchive(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	reporter := newReporter(d.NewReporter)
	reporter.Start(size, fmt.Sprintf("Uploading %s", filepath.Base(localPath)))

	d.logger.Info().
		Str("container", d.Container).
		Str("blob", objectName).
		Str("size", humanize.IBytes(uint64(size))).
		Msg("Uploading to Azure")

	_, err = d.client.UploadFile(ctx, d.Container, objectName, file, &azblob.UploadFileOptions{
		BlockSize:   constants.AzureBlockSize,
		Concurrency: constants.AzureConcurrency,
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(constants.ArchiveContentType),
		},
		Progress: func(bytesTransferred int64) {
			reporter.Update(bytesTransferred)
		},
	})
	if err != nil {
		reporter.Error(err)
		return apperr.Network("upload failed", err)
	}

	reporter.Finish()
	return nil
}
