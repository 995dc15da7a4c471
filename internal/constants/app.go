package constants

import (
	"time"
)

// Google Cloud Storage
const (
	// GCSUploadBaseURL - JSON API upload root. Objects are posted to
	// {base}/b/{bucket}/o?uploadType=media&name={object}
	GCSUploadBaseURL = "https://storage.googleapis.com/upload/storage/v1"

	// GCSReadWriteScope - OAuth2 scope requested in the service-account assertion
	GCSReadWriteScope = "https://www.googleapis.com/auth/devstorage.read_write"

	// JWTBearerGrantType - grant_type for the OAuth2 JWT-bearer exchange (RFC 7523)
	JWTBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// AssertionLifetime - exp - iat of a signed assertion (one hour, the maximum Google accepts)
	AssertionLifetime = 3600 * time.Second
)

// Archive
const (
	// ArchiveContentType - Content-Type sent with every upload
	ArchiveContentType = "application/gzip"

	// ArchiveExtension - suffix of the generated archive file
	ArchiveExtension = ".tar.gz"

	// ArchiveDateFormat - date stamp at the start of the archive file name (UTC)
	ArchiveDateFormat = "2006-01-02"

	// CopyBufferSize - buffer used when copying file contents into the tar stream (1 MB)
	CopyBufferSize = 1024 * 1024
)

// Azure block upload tuning
const (
	// AzureBlockSize - block size for Azure UploadFile (8 MB)
	AzureBlockSize = 8 * 1024 * 1024

	// AzureConcurrency - parallel block uploads for Azure UploadFile
	AzureConcurrency = 4
)

// Error reporting
const (
	// MaxErrorBodyBytes - how much of a failed response body is quoted in the error (1 KB)
	MaxErrorBodyBytes = 1024
)

// Retry configuration (only used when the config enables retries)
const (
	// RetryWaitMin - minimum wait between HTTP retries
	RetryWaitMin = 1 * time.Second

	// RetryWaitMax - maximum wait between HTTP retries
	RetryWaitMax = 30 * time.Second
)

// Progress display
const (
	// ProgressThrottle - minimum interval between progress bar redraws
	ProgressThrottle = 100 * time.Millisecond

	// ProgressRefreshRate - refresh rate of the archiving spinner
	ProgressRefreshRate = 300 * time.Millisecond
)

// Log file rotation
const (
	// LogFileMaxSizeMB - size in MB before the log file is rotated
	LogFileMaxSizeMB = 10

	// LogFileMaxBackups - rotated log files to keep
	LogFileMaxBackups = 5

	// LogFileMaxAgeDays - days to keep rotated log files
	LogFileMaxAgeDays = 30
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second
)
