package http

import (
	"io"
	nethttp "net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/kiwitech/pterobackup/internal/constants"
	"github.com/kiwitech/pterobackup/internal/logging"
)

// retryLogger implements the retryablehttp.LeveledLogger interface on top
// of the run's logger.
type retryLogger struct {
	logger *logging.Logger
}

// NewRetryLogger adapts logger for retryablehttp. A nil logger discards.
func NewRetryLogger(logger *logging.Logger) retryablehttp.LeveledLogger {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &retryLogger{logger: logger}
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

// Debug covers the per-request lines retryablehttp emits for every attempt.
func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// BodyExcerpt reads at most MaxErrorBodyBytes of a response body for use in
// an error message. The rest is drained so the connection can be reused.
func BodyExcerpt(resp *nethttp.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBodyBytes))
	_, _ = io.Copy(io.Discard, resp.Body)
	return strings.TrimSpace(string(data))
}
