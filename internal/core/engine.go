// Package core runs one backup: archive the selected volume, authorize
// against the object store, upload, then delete the local archive.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/cloud"
	"github.com/kiwitech/pterobackup/internal/cloud/upload"
	"github.com/kiwitech/pterobackup/internal/config"
	"github.com/kiwitech/pterobackup/internal/constants"
	"github.com/kiwitech/pterobackup/internal/diskspace"
	"github.com/kiwitech/pterobackup/internal/logging"
	"github.com/kiwitech/pterobackup/internal/progress"
	"github.com/kiwitech/pterobackup/internal/util/tar"
)

// Stage is a step of a backup run. A run only moves forward; any failure
// stops it at the last stage reached.
type Stage int

const (
	StageStart Stage = iota
	StageConfigLoaded
	StageArchiveCreated
	StageTokenObtained
	StageUploaded
	StageLocalFileDeleted
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "Start"
	case StageConfigLoaded:
		return "ConfigLoaded"
	case StageArchiveCreated:
		return "ArchiveCreated"
	case StageTokenObtained:
		return "TokenObtained"
	case StageUploaded:
		return "Uploaded"
	case StageLocalFileDeleted:
		return "LocalFileDeleted"
	case StageDone:
		return "Done"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Options configures an Engine.
type Options struct {
	Config  *config.Config
	Server  config.ServerType
	Exclude string

	// Destination overrides the backend selected by Config.Backend.
	Destination cloud.Destination
	// Clock dates the archive name. Defaults to the wall clock.
	Clock  clock.Clock
	Logger *logging.Logger
	// Progress shows the archiving spinner and the upload bar. The upload
	// bar is still only drawn when stderr is a terminal.
	Progress bool
	// OnStage is called each time the run reaches a new stage.
	OnStage func(Stage)
}

// Result describes how far a run got. ArchivePath is set as soon as the
// archive name is known, so an operator can find a file left behind by a
// failed upload.
type Result struct {
	Stage       Stage
	ArchivePath string
	ObjectName  string
	Size        int64
	Elapsed     time.Duration
}

// Engine runs a single backup.
type Engine struct {
	cfg     *config.Config
	server  config.ServerType
	exclude string
	dest    cloud.Destination
	clock   clock.Clock
	logger  *logging.Logger
	spinner bool
	onStage func(Stage)
}

// NewEngine checks opts and creates an engine. The configuration must
// already be loaded and validated.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, apperr.Config("missing configuration", fmt.Errorf("config is nil"))
	}
	if _, err := opts.Config.VolumeID(opts.Server); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	return &Engine{
		cfg:     opts.Config,
		server:  opts.Server,
		exclude: opts.Exclude,
		dest:    opts.Destination,
		clock:   clk,
		logger:  logger,
		spinner: opts.Progress,
		onStage: opts.OnStage,
	}, nil
}

// ArchiveFileName returns {YYYY-MM-DD}_{serverName}_{TYPE}.tar.gz, dated in UTC.
func ArchiveFileName(serverName string, server config.ServerType, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s",
		now.UTC().Format(constants.ArchiveDateFormat), serverName, server.Upper(), constants.ArchiveExtension)
}

// Run performs the backup. The archive is deleted only after the upload
// has been acknowledged; on any earlier failure it stays on disk and its
// path is in the returned Result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := e.clock.Now()
	res := &Result{Stage: StageStart}
	e.advance(res, StageConfigLoaded)

	dest := e.dest
	if dest == nil {
		var err error
		dest, err = upload.NewDestination(ctx, e.cfg, e.logger, e.uploadReporters())
		if err != nil {
			return res, err
		}
	}

	source, err := e.cfg.VolumePath(e.server)
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0755); err != nil {
		return res, apperr.IO("failed to create output directory", err)
	}

	fileName := ArchiveFileName(e.cfg.ServerName, e.server, start)
	res.ArchivePath = filepath.Join(e.cfg.OutputDir, fileName)
	res.ObjectName = upload.ObjectName(e.cfg.ServerName, e.server, fileName)

	// Archive
	if free, err := diskspace.Available(e.cfg.OutputDir); err == nil {
		e.logger.Debug().Str("output_dir", e.cfg.OutputDir).Str("free", humanize.IBytes(uint64(free))).Msg("Free space")
	}
	e.logger.Info().
		Str("server", e.server.String()).
		Str("source", source).
		Str("archive", res.ArchivePath).
		Msg("Creating archive")
	if err := e.archive(source, res.ArchivePath); err != nil {
		if diskspace.IsDiskFullError(err) {
			return res, apperr.IO(fmt.Sprintf("output directory %s is out of space", e.cfg.OutputDir), err)
		}
		return res, err
	}
	if info, err := os.Stat(res.ArchivePath); err == nil {
		res.Size = info.Size()
	}
	e.advance(res, StageArchiveCreated)
	e.logger.Info().
		Str("archive", res.ArchivePath).
		Str("size", humanize.IBytes(uint64(res.Size))).
		Dur("took", e.clock.Now().Sub(start)).
		Msg("Archive created")

	// Authorize
	if err := dest.Authorize(ctx); err != nil {
		return res, err
	}
	e.advance(res, StageTokenObtained)

	// Upload
	uploadStart := e.clock.Now()
	if err := dest.Upload(ctx, res.ArchivePath, res.ObjectName); err != nil {
		return res, err
	}
	e.advance(res, StageUploaded)
	e.logger.Info().
		Str("backend", dest.Name()).
		Str("object", res.ObjectName).
		Dur("took", e.clock.Now().Sub(uploadStart)).
		Msg("Upload complete")

	// Cleanup
	if err := os.Remove(res.ArchivePath); err != nil {
		return res, apperr.Storage("failed to delete local archive", err)
	}
	e.advance(res, StageLocalFileDeleted)
	e.logger.Debug().Str("archive", res.ArchivePath).Msg("Deleted local archive")

	res.Elapsed = e.clock.Now().Sub(start)
	e.advance(res, StageDone)
	return res, nil
}

func (e *Engine) archive(source, archivePath string) error {
	opts := tar.Options{
		Exclude:          e.exclude,
		CompressionLevel: e.cfg.Compression(),
		Logger:           e.logger,
	}

	if !e.spinner {
		return tar.CreateTarGz(source, archivePath, opts)
	}

	ui := progress.NewArchiveUI(fmt.Sprintf("Archiving %s", e.server.Upper()))
	opts.OnEntry = ui.Add
	if err := tar.CreateTarGz(source, archivePath, opts); err != nil {
		ui.Abort()
		return err
	}
	ui.Done()
	e.logger.Debug().
		Int64("entries", ui.Entries()).
		Str("content", humanize.IBytes(uint64(ui.Bytes()))).
		Msg("Archived entries")
	return nil
}

// uploadReporters returns the reporter factory handed to the destination.
// nil leaves the destination's terminal detection in charge.
func (e *Engine) uploadReporters() upload.ReporterFactory {
	if e.spinner {
		return nil
	}
	return func() progress.Reporter { return progress.NewNoOpProgress() }
}

func (e *Engine) advance(res *Result, s Stage) {
	res.Stage = s
	e.logger.Debug().Str("stage", s.String()).Msg("Stage reached")
	if e.onStage != nil {
		e.onStage(s)
	}
}
