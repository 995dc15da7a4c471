package progress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// recordingReporter captures every Update call.
type recordingReporter struct {
	NoOpProgress
	updates []int64
}

func (r *recordingReporter) Update(current int64) {
	r.updates = append(r.updates, current)
}

// TestProgressReader_AdvancesByChunk verifies the indicator advances by each chunk's size.
func TestProgressReader_AdvancesByChunk(t *testing.T) {
	data := strings.Repeat("x", 10)
	rep := &recordingReporter{}
	pr := NewProgressReader(strings.NewReader(data), int64(len(data)), rep)

	buf := make([]byte, 4)
	for {
		_, err := pr.Read(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := []int64{4, 8, 10}
	if len(rep.updates) != len(want) {
		t.Fatalf("expected updates %v, got %v", want, rep.updates)
	}
	for i := range want {
		if rep.updates[i] != want[i] {
			t.Errorf("update %d: expected %d, got %d", i, want[i], rep.updates[i])
		}
	}
	if pr.current != pr.total {
		t.Errorf("expected current == total, got %d/%d", pr.current, pr.total)
	}
}

// TestProgressReader_SeekResets verifies a rewind moves the indicator back.
func TestProgressReader_SeekResets(t *testing.T) {
	pr := NewProgressReader(strings.NewReader("abcdef"), 6, nil)

	if _, err := io.ReadAll(pr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.Len() != 0 {
		t.Fatalf("expected Len 0 after full read, got %d", pr.Len())
	}

	if _, err := pr.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("unexpected seek error: %v", err)
	}
	if pr.current != 0 || pr.Len() != 6 {
		t.Errorf("expected reset to 0/6, got current=%d len=%d", pr.current, pr.Len())
	}

	got, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "abcdef" {
		t.Errorf("expected full content after rewind, got %q", got)
	}
}

// TestCLIProgress_RendersToWriter verifies the bar writes to the given writer.
func TestCLIProgress_RendersToWriter(t *testing.T) {
	var buf bytes.Buffer
	p := NewCLIProgress(&buf)
	p.Start(100, "Uploading")
	p.Update(100)
	p.Finish()

	if !strings.Contains(buf.String(), "Uploading") {
		t.Errorf("expected description in output, got %q", buf.String())
	}
}

// TestCLIProgress_UpdateBeforeStart verifies calls before Start are ignored.
func TestCLIProgress_UpdateBeforeStart(t *testing.T) {
	p := NewCLIProgress(io.Discard)
	p.Update(10)
	p.Finish()
}

// TestArchiveUI_Counts verifies entries and bytes are accumulated.
func TestArchiveUI_Counts(t *testing.T) {
	ui := newArchiveUI(io.Discard, "Archiving")
	ui.Add("world/", 0)
	ui.Add("world/level.dat", 10)
	ui.Add("server.properties", 5)
	ui.Done()

	if ui.Entries() != 3 {
		t.Errorf("expected 3 entries, got %d", ui.Entries())
	}
	if ui.Bytes() != 15 {
		t.Errorf("expected 15 bytes, got %d", ui.Bytes())
	}
}

func TestTruncatePath(t *testing.T) {
	if got := truncatePath("short", 40); got != "short" {
		t.Errorf("expected unchanged, got %q", got)
	}
	long := strings.Repeat("d/", 30) + "level.dat"
	got := truncatePath(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "level.dat") || !strings.HasPrefix(got, "...") {
		t.Errorf("unexpected truncation %q", got)
	}
}
