// Package progress provides operator-facing progress reporting. Nothing here
// affects the outcome of an archive or upload; it is purely observational.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/kiwitech/pterobackup/internal/constants"
)

// Reporter is the interface for reporting byte progress.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewUploadReporter returns a progress bar on stderr when stderr is a
// terminal, and a silent reporter otherwise (cron, systemd).
func NewUploadReporter() Reporter {
	if IsTerminal(os.Stderr) {
		return NewCLIProgress(os.Stderr)
	}
	return NewNoOpProgress()
}

// CLIProgress implements progress reporting for CLI mode using progress bars.
type CLIProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new CLI progress reporter writing to out.
func NewCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out}
}

// Start initializes the progress bar: spinner, elapsed time, bar, bytes
// transferred of total, ETA.
func (p *CLIProgress) Start(total int64, description string) {
	out := p.out
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(constants.ProgressThrottle),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "#",
			SaucerHead:    ">",
			SaucerPadding: "-",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		if p.bar != nil {
			_ = p.bar.Exit()
		}
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// NoOpProgress is a progress reporter that does nothing (non-interactive runs).
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

// Start does nothing.
func (p *NoOpProgress) Start(total int64, description string) {}

// Update does nothing.
func (p *NoOpProgress) Update(current int64) {}

// Finish does nothing.
func (p *NoOpProgress) Finish() {}

// Error does nothing.
func (p *NoOpProgress) Error(err error) {}

// ProgressReader wraps a seekable reader (normally the archive file) and
// reports the read position after every chunk. It never buffers: each Read
// is passed straight through to the underlying reader.
type ProgressReader struct {
	reader   io.ReadSeeker
	reporter Reporter
	total    int64
	current  int64
}

// NewProgressReader creates a new progress-reporting reader over total bytes.
func NewProgressReader(reader io.ReadSeeker, total int64, reporter Reporter) *ProgressReader {
	if reporter == nil {
		reporter = NewNoOpProgress()
	}
	return &ProgressReader{
		reader:   reader,
		reporter: reporter,
		total:    total,
	}
}

// Read implements io.Reader, advancing the indicator by the chunk length.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		pr.reporter.Update(pr.current)
	}
	return n, err
}

// Seek implements io.Seeker. HTTP clients rewind the body before a retry;
// the indicator follows the new position.
func (pr *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := pr.reader.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	pr.current = pos
	pr.reporter.Update(pos)
	return pos, nil
}

// Len reports the bytes remaining, which lets HTTP clients set Content-Length.
func (pr *ProgressReader) Len() int {
	return int(pr.total - pr.current)
}

