package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/cloud/credentials"
	"github.com/kiwitech/pterobackup/internal/config"
	"github.com/kiwitech/pterobackup/internal/constants"
	internalhttp "github.com/kiwitech/pterobackup/internal/http"
	"github.com/kiwitech/pterobackup/internal/logging"
	"github.com/kiwitech/pterobackup/internal/progress"
)

// GCSDestination uploads through the Cloud Storage JSON API in a single
// simple-media request. There is no resumable session: a failed upload
// starts over on the next run.
type GCSDestination struct {
	Bucket          string
	Endpoint        string
	CredentialsPath string

	// NewReporter creates the progress reporter; nil means a terminal bar
	// when stderr is a TTY.
	NewReporter ReporterFactory

	auth   *credentials.Authenticator
	client *retryablehttp.Client
	base   nethttp.RoundTripper
	token  string
	logger *logging.Logger
}

// NewGCSDestination creates a GCS destination. client is used only for the
// upload request; auth carries its own client for the token exchange.
func NewGCSDestination(cfg *config.Config, auth *credentials.Authenticator, client *retryablehttp.Client, logger *logging.Logger) *GCSDestination {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	endpoint := cfg.StorageEndpoint
	if endpoint == "" {
		endpoint = constants.GCSUploadBaseURL
	}

	base := client.HTTPClient.Transport
	if base == nil {
		base = nethttp.DefaultTransport
	}

	return &GCSDestination{
		Bucket:          cfg.BucketName,
		Endpoint:        strings.TrimRight(endpoint, "/"),
		CredentialsPath: cfg.GCSCredentials,
		auth:            auth,
		client:          client,
		base:            base,
		logger:          logger,
	}
}

// Name returns "gcs".
func (d *GCSDestination) Name() string {
	return config.BackendGCS
}

// Authorize exchanges the service-account key for a bearer token and
// installs it on the upload transport.
func (d *GCSDestination) Authorize(ctx context.Context) error {
	token, err := d.auth.AccessToken(ctx, d.CredentialsPath)
	if err != nil {
		return err
	}
	d.token = token
	d.client.HTTPClient.Transport = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		Base:   d.base,
	}
	return nil
}

// UploadURL returns the simple-media upload URL for objectName.
func (d *GCSDestination) UploadURL(objectName string) string {
	return fmt.Sprintf("%s/b/%s/o?uploadType=media&name=%s",
		d.Endpoint, url.PathEscape(d.Bucket), url.QueryEscape(objectName))
}

// Upload streams localPath as the request body. Any non-2xx response is a
// network error carrying the status and the start of the response body.
func (d *GCSDestination) Upload(ctx context.Context, localPath, objectName string) error {
	if d.token == "" {
		return apperr.Network("upload failed", errors.New("not authorized"))
	}

	file, size, err := openArchive(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	reporter := newReporter(d.NewReporter)
	reporter.Start(size, fmt.Sprintf("Uploading %s", filepath.Base(localPath)))
	body := newUploadBody(file, size, reporter)

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", d.UploadURL(objectName), body)
	if err != nil {
		reporter.Error(err)
		return apperr.Network("failed to create upload request", err)
	}
	req.Header.Set("Content-Type", constants.ArchiveContentType)

	d.logger.Info().
		Str("bucket", d.Bucket).
		Str("object", objectName).
		Str("size", humanize.IBytes(uint64(size))).
		Msg("Uploading to GCS")

	resp, err := d.client.Do(req)
	if err != nil {
		reporter.Error(err)
		return apperr.Network("upload failed", err)
	}
	defer resp.Body.Close()

	if !internalhttp.IsSuccess(resp.StatusCode) {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, internalhttp.BodyExcerpt(resp))
		reporter.Error(err)
		return apperr.Network("upload failed", err)
	}

	reporter.Finish()
	d.logger.Debug().Int("status", resp.StatusCode).Msg("GCS upload acknowledged")
	return nil
}

// streamingBody is a request body retryablehttp can send without buffering:
// it rewinds through Seek on retry and takes Content-Length from Len.
type streamingBody interface {
	io.ReadSeeker
	retryablehttp.LenReader
}

func newUploadBody(file io.ReadSeeker, size int64, reporter progress.Reporter) streamingBody {
	return progress.NewProgressReader(file, size, reporter)
}
