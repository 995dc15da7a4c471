package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/kiwitech/pterobackup/internal/constants"
)

// ArchiveUI shows a spinner while a volume is being archived. The total size
// is not known up front, so it counts entries and bytes rather than filling
// a bar.
type ArchiveUI struct {
	p       *mpb.Progress
	bar     *mpb.Bar
	entries atomic.Int64
	bytes   atomic.Int64
	last    atomic.Value // string
}

// NewArchiveUI creates an archive spinner on stderr. When stderr is not a
// terminal the spinner renders to io.Discard.
func NewArchiveUI(label string) *ArchiveUI {
	var out io.Writer = io.Discard
	if IsTerminal(os.Stderr) {
		out = os.Stderr
	}
	return newArchiveUI(out, label)
}

func newArchiveUI(out io.Writer, label string) *ArchiveUI {
	ui := &ArchiveUI{}
	ui.last.Store("")

	ui.p = mpb.New(
		mpb.WithOutput(out),
		mpb.WithWidth(60),
		mpb.WithRefreshRate(constants.ProgressRefreshRate),
	)
	ui.bar = ui.p.New(0,
		mpb.SpinnerStyle(),
		mpb.PrependDecorators(
			decor.Name(label+" ", decor.WC{C: decor.DindentRight}),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return fmt.Sprintf("%d entries, %s", ui.entries.Load(), humanize.IBytes(uint64(ui.bytes.Load())))
			}, decor.WCSyncSpaceR),
			decor.Any(func(decor.Statistics) string {
				return truncatePath(ui.last.Load().(string), 40)
			}),
		),
	)
	return ui
}

// Add records one archived entry. It matches the OnEntry hook of the tar
// writer.
func (ui *ArchiveUI) Add(name string, size int64) {
	ui.entries.Add(1)
	ui.bytes.Add(size)
	ui.last.Store(name)
	ui.bar.IncrInt64(size)
}

// Entries returns the number of entries recorded so far.
func (ui *ArchiveUI) Entries() int64 {
	return ui.entries.Load()
}

// Bytes returns the content bytes recorded so far.
func (ui *ArchiveUI) Bytes() int64 {
	return ui.bytes.Load()
}

// Done stops the spinner and waits for the final render.
func (ui *ArchiveUI) Done() {
	ui.bar.SetTotal(-1, true)
	ui.p.Wait()
}

// Abort drops the spinner line, used when archiving fails.
func (ui *ArchiveUI) Abort() {
	ui.bar.Abort(true)
	ui.p.Wait()
}

// truncatePath shortens a path for display, keeping the file name.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	base := filepath.Base(path)
	if len(base) >= maxLen-3 {
		return "..." + base[len(base)-(maxLen-3):]
	}
	return "..." + path[len(path)-(maxLen-3):]
}
