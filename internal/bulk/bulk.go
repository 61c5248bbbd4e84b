package bulk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/domain"
)

var (
	ErrNoFiles         = errors.New("no files selected")
	ErrInvalidWorkbook = errors.New("invalid workbook")
)

type Backend interface {
	ImportSpreadsheet(ctx context.Context, file backend.Upload) (*backend.SpreadsheetReply, error)
	ResizeFolder(ctx context.Context, folderName string, files []backend.Upload) ([]domain.ResizedImage, error)
	ProcessFolderFaces(ctx context.Context, folderName string) error
	ListTiles(ctx context.Context) ([]domain.Tile, error)
}

type RunRecorder interface {
	CreateImportRun(ctx context.Context, run *domain.ImportRun) error
}

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is one operator-facing message produced by an import.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Result is the outcome of an import together with the refreshed listing.
type Result struct {
	Run     *domain.ImportRun `json:"run"`
	Notices []Notice          `json:"notices"`
	Tiles   []domain.Tile     `json:"tiles"`
	// RefreshError is set when the listing could not be re-fetched.
	RefreshError string `json:"refresh_error,omitempty"`
}

func (r *Result) notify(level Level, format string, args ...any) {
	r.Notices = append(r.Notices, Notice{Level: level, Message: fmt.Sprintf(format, args...)})
}

type Importer struct {
	backend Backend
	runs    RunRecorder
	logger  *slog.Logger
	now     func() time.Time
}

func NewImporter(b Backend, runs RunRecorder, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{backend: b, runs: runs, logger: logger, now: time.Now}
}

// BatchName derives the server-side folder name of a folder import from t:
// "tiles_" followed by the UTC time as yyyymmddhhmmss and milliseconds.
func BatchName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("tiles_%s%03d", t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond))
}

// ImportSpreadsheet uploads a workbook describing many tiles. Workbooks in
// the xlsx family are checked locally first so that an empty or corrupt
// file is rejected before any request is made.
func (im *Importer) ImportSpreadsheet(ctx context.Context, file backend.Upload) (*Result, error) {
	if len(file.Data) == 0 {
		return nil, ErrNoFiles
	}
	if err := preflight(file); err != nil {
		return nil, err
	}

	run := &domain.ImportRun{ID: uuid.NewString(), Kind: domain.ImportSpreadsheet, Batch: file.FileName}
	res := &Result{Run: run}
	log := im.logger.With("run_id", run.ID, "kind", run.Kind)

	reply, err := im.backend.ImportSpreadsheet(ctx, file)
	var stage domain.StageResult
	switch {
	case err != nil:
		msg := "Error importing Excel: " + backend.Describe(err)
		stage = domain.Failed(domain.StageSpreadsheet, msg)
	case spreadsheetFailed(reply):
		stage = domain.Failed(domain.StageSpreadsheet, reply.Message)
	default:
		msg := reply.Message
		if msg == "" {
			msg = "Excel imported successfully"
		}
		stage = domain.Succeeded(domain.StageSpreadsheet, msg)
	}
	run.Stages = append(run.Stages, stage)
	run.Message = stage.Detail
	if stage.OK() {
		run.Succeeded = 1
		res.notify(LevelSuccess, "%s", stage.Detail)
	} else {
		run.Failed = 1
		res.notify(LevelError, "%s", stage.Detail)
	}
	logStage(log, stage)

	im.finish(ctx, res)
	return res, nil
}

// spreadsheetFailed classifies the import reply. A structured envelope is
// authoritative; otherwise the legacy rule applies: a message containing
// "Error" (case-sensitive) is a failure.
func spreadsheetFailed(reply *backend.SpreadsheetReply) bool {
	if reply.Envelope != nil {
		return !reply.Envelope.OK
	}
	return strings.Contains(reply.Message, "Error")
}

func preflight(file backend.Upload) error {
	switch strings.ToLower(filepath.Ext(file.FileName)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
	default:
		return nil
	}
	f, err := excelize.OpenReader(bytes.NewReader(file.Data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return fmt.Errorf("%w: workbook has no sheets", ErrInvalidWorkbook)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	for _, row := range rows[min(1, len(rows)):] {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: sheet %q has no data rows", ErrInvalidWorkbook, sheet)
}

// ImportFolder resizes a folder of tile images as one batch and then runs
// face extraction with the overlay step over the same batch. Every file is
// reported individually; a failed face stage keeps the resize results.
func (im *Importer) ImportFolder(ctx context.Context, files []backend.Upload) (*Result, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	run := &domain.ImportRun{ID: uuid.NewString(), Kind: domain.ImportFolder, Batch: BatchName(im.now())}
	res := &Result{Run: run}
	log := im.logger.With("run_id", run.ID, "kind", run.Kind, "batch", run.Batch)

	images, err := im.backend.ResizeFolder(ctx, run.Batch, files)
	runFaces := true
	if err != nil {
		msg := backend.Describe(err)
		run.Stages = append(run.Stages, domain.Failed(domain.StageResizeFolder, msg))
		run.Failed = len(files)
		res.notify(LevelError, "Error processing folder: %s", msg)
		// An unexpected reply shape still leaves the batch on the server.
		var apiErr *backend.APIError
		runFaces = errors.As(err, &apiErr) && apiErr.Status < 400
	} else {
		run.Files = images
		for _, img := range images {
			if img.Error != "" {
				run.Failed++
				res.notify(LevelError, "Failed to process %s: %s", img.FileName, img.Error)
				continue
			}
			run.Succeeded++
			res.notify(LevelSuccess, "Resized: %s - Big: %s, Thumb: %s", img.FileName, img.BigURL, img.ThumbURL)
		}
		detail := fmt.Sprintf("%d of %d file(s) resized", run.Succeeded, len(images))
		if run.Failed > 0 {
			run.Stages = append(run.Stages, domain.Failed(domain.StageResizeFolder, detail))
		} else {
			run.Stages = append(run.Stages, domain.Succeeded(domain.StageResizeFolder, detail))
		}
	}
	logStage(log, run.Stages[len(run.Stages)-1])

	if runFaces {
		if err := im.backend.ProcessFolderFaces(ctx, run.Batch); err != nil {
			msg := backend.Describe(err)
			run.Stages = append(run.Stages, domain.Failed(domain.StageFolderFaces, msg))
			res.notify(LevelError, "Error processing folder: %s", msg)
		} else {
			msg := "Faces processed and blue patch applied"
			run.Stages = append(run.Stages, domain.Succeeded(domain.StageFolderFaces, msg))
			res.notify(LevelSuccess, "%s", msg)
		}
		logStage(log, run.Stages[len(run.Stages)-1])
	}
	run.Message = fmt.Sprintf("%d succeeded, %d failed", run.Succeeded, run.Failed)

	im.finish(ctx, res)
	return res, nil
}

// Refresh re-fetches the tile listing.
func (im *Importer) Refresh(ctx context.Context) ([]domain.Tile, error) {
	tiles, err := im.backend.ListTiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh tiles: %w", err)
	}
	return tiles, nil
}

// finish refreshes the listing and records the run, whatever the per-file
// outcomes were.
func (im *Importer) finish(ctx context.Context, res *Result) {
	tiles, err := im.Refresh(ctx)
	if err != nil {
		res.RefreshError = backend.Describe(err)
		im.logger.Warn("tile refresh failed", "run_id", res.Run.ID, "error", err)
	} else {
		res.Tiles = tiles
	}

	res.Run.CreatedAt = im.now().UTC()
	if im.runs == nil {
		return
	}
	if err := im.runs.CreateImportRun(context.WithoutCancel(ctx), res.Run); err != nil {
		im.logger.Error("failed to record import run", "run_id", res.Run.ID, "error", err)
	}
}

func logStage(log *slog.Logger, r domain.StageResult) {
	if r.OK() {
		log.Info("stage completed", "stage", r.Stage, "status", r.Status, "detail", r.Detail)
		return
	}
	log.Warn("stage failed", "stage", r.Stage, "status", r.Status, "detail", r.Detail)
}
