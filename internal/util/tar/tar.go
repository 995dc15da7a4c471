package tar

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/constants"
	"github.com/kiwitech/pterobackup/internal/logging"
)

// Options controls CreateTarGz.
type Options struct {
	// Exclude skips every path whose absolute form contains this substring.
	// Matching is a plain substring test on the whole path, not on path
	// components: "log" also excludes "catalog.txt".
	Exclude string

	// CompressionLevel is a gzip level: -1 default, 0 store only, 1-9.
	// Callers without a preference should pass gzip.DefaultCompression.
	CompressionLevel int

	// OnEntry is called after each entry is written with its archive name and
	// content size (0 for directories).
	OnEntry func(name string, size int64)

	Logger *logging.Logger
}

// CreateTarGz writes a gzip-compressed tar of everything under sourceDir to
// outputPath. Entry names are relative to the canonical source root and the
// root itself is never an entry.
func CreateTarGz(sourceDir, outputPath string, opts Options) (err error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	root, err := canonicalize(sourceDir)
	if err != nil {
		return apperr.IO("failed to resolve source directory", err)
	}
	logger.Debug().Str("source", root).Msg("Canonicalized source directory")

	outFile, err := os.Create(outputPath)
	if err != nil {
		return apperr.IO("failed to create archive file", err)
	}

	defer func() {
		if err != nil {
			outFile.Close()
			os.Remove(outputPath) // partial archive is useless
		}
	}()

	gzWriter, err := gzip.NewWriterLevel(outFile, opts.CompressionLevel)
	if err != nil {
		return apperr.IO("failed to create gzip writer", err)
	}
	tarWriter := tar.NewWriter(gzWriter)

	// Never archive the archive itself when it is written inside the source.
	self := resolveFile(outputPath)

	w := &walker{
		root:    root,
		self:    self,
		exclude: opts.Exclude,
		tw:      tarWriter,
		onEntry: opts.OnEntry,
		logger:  logger,
		buf:     make([]byte, constants.CopyBufferSize),
	}
	if err := filepath.WalkDir(root, w.visit); err != nil {
		var classified *apperr.Error
		if errors.As(err, &classified) {
			return err
		}
		return apperr.IO("failed to walk source directory", err)
	}

	// Close in order; each layer flushes into the next.
	if err := tarWriter.Close(); err != nil {
		return apperr.IO("failed to finalize tar stream", err)
	}
	if err := gzWriter.Close(); err != nil {
		return apperr.IO("failed to finalize gzip stream", err)
	}
	if err := outFile.Close(); err != nil {
		return apperr.IO("failed to close archive file", err)
	}

	logger.Info().
		Str("output", outputPath).
		Int("entries", w.entries).
		Int("excluded", w.excluded).
		Msg("Created tar.gz archive")
	return nil
}

// canonicalize returns the absolute, symlink-free form of dir and checks
// that it is a directory.
func canonicalize(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source path is not a directory: %s", resolved)
	}
	return resolved, nil
}

// resolveFile canonicalizes the directory part of an existing file's path.
func resolveFile(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs
	}
	return filepath.Join(dir, filepath.Base(abs))
}

type walker struct {
	root     string
	self     string
	exclude  string
	tw       *tar.Writer
	onEntry  func(string, int64)
	logger   *logging.Logger
	buf      []byte
	entries  int
	excluded int
}

func (w *walker) visit(path string, d fs.DirEntry, walkErr error) error {
	if walkErr != nil {
		return apperr.IO(fmt.Sprintf("failed to read %s", path), walkErr)
	}

	// Skip the root directory itself
	if path == w.root || path == w.self {
		return nil
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return apperr.IO("failed to get relative path", err)
	}
	name := filepath.ToSlash(rel)

	if w.exclude != "" && strings.Contains(path, w.exclude) {
		w.excluded++
		w.logger.Info().Str("path", name).Msg("Excluding")
		// Every descendant's path contains this one, so none could be included.
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	// Stat follows symlinks: the target is archived under the link's name.
	info, err := os.Stat(path)
	if err != nil {
		return apperr.IO(fmt.Sprintf("failed to stat %s", name), err)
	}

	switch {
	case info.Mode().IsRegular():
		w.logger.Debug().Str("path", name).Int64("size", info.Size()).Msg("Adding file to tar.gz")
		if err := w.addFile(path, name, info); err != nil {
			return err
		}
	case info.IsDir():
		w.logger.Debug().Str("path", name).Msg("Adding directory to tar.gz")
		// WalkDir does not descend into a symlinked directory, so it ends up
		// recorded as an empty directory.
		if err := w.writeHeader(name+"/", info); err != nil {
			return err
		}
	default:
		w.logger.Warn().Str("path", name).Str("mode", info.Mode().String()).Msg("Skipping special file")
		return nil
	}

	w.entries++
	if info.IsDir() {
		w.notify(name+"/", 0)
	} else {
		w.notify(name, info.Size())
	}
	return nil
}

func (w *walker) writeHeader(name string, info fs.FileInfo) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return apperr.IO(fmt.Sprintf("failed to create tar header for %s", name), err)
	}
	header.Name = name
	if err := w.tw.WriteHeader(header); err != nil {
		return apperr.IO(fmt.Sprintf("failed to write tar header for %s", name), err)
	}
	return nil
}

func (w *walker) addFile(path, name string, info fs.FileInfo) error {
	file, err := os.Open(path)
	if err != nil {
		return apperr.IO(fmt.Sprintf("failed to open %s", name), err)
	}
	defer file.Close()

	if err := w.writeHeader(name, info); err != nil {
		return err
	}

	// Limit to the header size; a world file can grow while the server runs.
	if _, err := io.CopyBuffer(w.tw, io.LimitReader(file, info.Size()), w.buf); err != nil {
		return apperr.IO(fmt.Sprintf("failed to write contents of %s", name), err)
	}
	return nil
}

func (w *walker) notify(name string, size int64) {
	if w.onEntry != nil {
		w.onEntry(name, size)
	}
}
