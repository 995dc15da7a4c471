package credentials

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/config"
)

// S3Provider returns a static provider when both keys are configured and nil
// otherwise, in which case the SDK's default chain (environment, shared
// config, instance role) applies.
func S3Provider(cfg *config.S3Config) aws.CredentialsProvider {
	if cfg == nil || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil
	}
	return aws.NewCredentialsCache(
		awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	)
}

// RetrieveAWS resolves credentials once so a run without any usable chain
// fails before the upload starts.
func RetrieveAWS(ctx context.Context, provider aws.CredentialsProvider) (aws.Credentials, error) {
	if provider == nil {
		return aws.Credentials{}, apperr.Config("failed to resolve S3 credentials", errors.New("no credentials provider"))
	}
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, apperr.Config("failed to resolve S3 credentials", err)
	}
	if !creds.HasKeys() {
		return aws.Credentials{}, apperr.Config("failed to resolve S3 credentials", errors.New("empty access key"))
	}
	return creds, nil
}
