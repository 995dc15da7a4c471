// Package cloud defines the storage destination abstraction shared by the
// GCS, S3 and Azure backends.
package cloud

import (
	"context"
)

// Destination is an object store that receives one archive per run.
//
// Authorize is called once before Upload and performs every credential
// step (token exchange, credential chain resolution). Upload streams the
// local file to objectName and returns nil only once the store has
// acknowledged the complete object.
type Destination interface {
	// Name is the backend name used in log lines ("gcs", "s3", "azure").
	Name() string
	Authorize(ctx context.Context) error
	Upload(ctx context.Context, localPath, objectName string) error
}
