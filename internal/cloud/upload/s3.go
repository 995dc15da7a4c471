package upload

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/cloud/credentials"
	"github.com/kiwitech/pterobackup/internal/config"
	"github.com/kiwitech/pterobackup/internal/constants"
	"github.com/kiwitech/pterobackup/internal/logging"
	"github.com/kiwitech/pterobackup/internal/progress"
)

// S3Destination uploads with a single PutObject. A custom endpoint selects
// path-style addressing for S3-compatible stores (MinIO, R2).
type S3Destination struct {
	Bucket string

	// NewReporter creates the progress reporter; nil means a terminal bar
	// when stderr is a TTY.
	NewReporter ReporterFactory

	client   *s3.Client
	provider aws.CredentialsProvider
	logger   *logging.Logger
}

// NewS3Destination loads the AWS configuration for cfg.S3. Static keys from
// the config take precedence over the default credential chain.
func NewS3Destination(ctx context.Context, cfg *config.Config, httpClient aws.HTTPClient, logger *logging.Logger) (*S3Destination, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.S3 == nil {
		return nil, apperr.Config("invalid config file", fmt.Errorf("s3 settings are required for the s3 backend"))
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3.Region),
		awsconfig.WithRetryMaxAttempts(cfg.Retries + 1),
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}
	if provider := credentials.S3Provider(cfg.S3); provider != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(provider))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperr.Config("failed to load AWS configuration", err)
	}

	endpoint := cfg.S3.Endpoint
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
		// Checksums are only sent when an operation requires them, which
		// keeps the body a plain stream rather than aws-chunked.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Destination{
		Bucket:   cfg.BucketName,
		client:   client,
		provider: awsCfg.Credentials,
		logger:   logger,
	}, nil
}

// Name returns "s3".
func (d *S3Destination) Name() string {
	return config.BackendS3
}

// Authorize resolves the credential chain once.
func (d *S3Destination) Authorize(ctx context.Context) error {
	creds, err := credentials.RetrieveAWS(ctx, d.provider)
	if err != nil {
		return err
	}
	d.logger.Debug().Str("source", creds.Source).Msg("Resolved S3 credentials")
	return nil
}

// Upload streams localPath with PutObject. The payload is sent unsigned so
// the SDK does not read the whole file to hash it before sending.
func (d *S3Destination) Upload(ctx context.Context, localPath, objectName string) error {
	file, size, err := openArchive(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	reporter := newReporter(d.NewReporter)
	reporter.Start(size, fmt.Sprintf("Uploading %s", filepath.Base(localPath)))
	body := progress.NewProgressReader(file, size, reporter)

	d.logger.Info().
		Str("bucket", d.Bucket).
		Str("object", objectName).
		Str("size", humanize.IBytes(uint64(size))).
		Msg("Uploading to S3")

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.Bucket),
		Key:           aws.String(objectName),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(constants.ArchiveContentType),
	}, s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
	if err != nil {
		reporter.Error(err)
		return apperr.Network("upload failed", err)
	}

	reporter.Finish()
	return nil
}
