package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/bulk"
	"github.com/vbonduro/tileconsole/internal/capture"
	"github.com/vbonduro/tileconsole/internal/domain"
	"github.com/vbonduro/tileconsole/internal/draft"
	"github.com/vbonduro/tileconsole/internal/ingest"
	"github.com/vbonduro/tileconsole/internal/refdata"
	"github.com/vbonduro/tileconsole/internal/tiles"
)

var (
	ErrSessionNotFound  = errors.New("form session not found")
	ErrSubmitting       = errors.New("form is being submitted")
	ErrInvalidDimension = errors.New("width and height must be positive")
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrRunNotFound      = errors.New("run not found")
)

// ListingPath is where the console returns after a committed submission.
const ListingPath = "/tiles"

// pipeline is the subset of ingest.Pipeline that ConsoleService requires.
type pipeline interface {
	Run(ctx context.Context, sub ingest.Submission) (*ingest.Outcome, error)
}

// importer is the subset of bulk.Importer that ConsoleService requires.
type importer interface {
	ImportSpreadsheet(ctx context.Context, file backend.Upload) (*bulk.Result, error)
	ImportFolder(ctx context.Context, files []backend.Upload) (*bulk.Result, error)
}

// directory is the subset of tiles.Directory that ConsoleService requires.
type directory interface {
	List(ctx context.Context) ([]domain.Tile, error)
	FindBySKU(ctx context.Context, skuCode string) (*domain.Tile, error)
	Images(t domain.Tile) tiles.Images
	VariantURL(variant string) string
	SetBlocked(ctx context.Context, userID string, tileID int64, block bool) error
	Edit(ctx context.Context, e tiles.Edit) error
	Export(ctx context.Context) (domain.Artifact, error)
}

// discoverer is the subset of variant.Probe that ConsoleService requires.
type discoverer interface {
	Discover(ctx context.Context, baseSku string) ([]string, error)
}

// runRepository is the subset of store.RunStore that ConsoleService requires.
type runRepository interface {
	GetIngestRun(ctx context.Context, id string) (*domain.IngestRun, error)
	ListIngestRuns(ctx context.Context, skuCode string, limit int) ([]*domain.IngestRun, error)
	GetImportRun(ctx context.Context, id string) (*domain.ImportRun, error)
	ListImportRuns(ctx context.Context, limit int) ([]*domain.ImportRun, error)
}

// artifactReader is the read side of artifact.Store.
type artifactReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, domain.Artifact, error)
}

type Options struct {
	RequestedBy   string
	DefaultWidth  int
	DefaultHeight int
	FormTTL       time.Duration
	FormMax       int
}

type ConsoleService struct {
	refs      *refdata.Loader
	validator *draft.Validator
	pipeline  pipeline
	importer  importer
	directory directory
	variants  discoverer
	runs      runRepository
	artifacts artifactReader
	forms     *expirable.LRU[string, *form]
	opts      Options
	logger    *slog.Logger
}

func NewConsoleService(
	refs *refdata.Loader,
	pipeline pipeline,
	importer importer,
	directory directory,
	variants discoverer,
	runs runRepository,
	artifacts artifactReader,
	opts Options,
	logger *slog.Logger,
) *ConsoleService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultWidth <= 0 {
		opts.DefaultWidth = ingest.DefaultWidth
	}
	if opts.DefaultHeight <= 0 {
		opts.DefaultHeight = ingest.DefaultHeight
	}
	if opts.FormTTL <= 0 {
		opts.FormTTL = time.Hour
	}
	if opts.FormMax <= 0 {
		opts.FormMax = 64
	}
	s := &ConsoleService{
		refs:      refs,
		validator: draft.NewValidator(),
		pipeline:  pipeline,
		importer:  importer,
		directory: directory,
		variants:  variants,
		runs:      runs,
		artifacts: artifacts,
		opts:      opts,
		logger:    logger,
	}
	// Evicted forms, whether expired, displaced or removed, release their
	// reference data.
	s.forms = expirable.NewLRU[string, *form](opts.FormMax, func(id string, f *form) {
		f.refs.Dispose()
		s.logger.Debug("form closed", "form_id", id)
	}, opts.FormTTL)
	return s
}

// OpenForm creates an empty form and loads its reference data. The form is
// registered only once every reference list has loaded.
func (s *ConsoleService) OpenForm(ctx context.Context) (*FormView, error) {
	f := &form{
		id:       uuid.NewString(),
		captures: capture.NewSet(),
		refs:     refdata.NewSession(s.refs),
		width:    s.opts.DefaultWidth,
		height:   s.opts.DefaultHeight,
	}
	if err := f.refs.Load(ctx); err != nil {
		f.refs.Dispose()
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}
	s.forms.Add(f.id, f)
	s.logger.Info("form opened", "form_id", f.id)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view(), nil
}

func (s *ConsoleService) form(id string) (*form, error) {
	f, ok := s.forms.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return f, nil
}

func (s *ConsoleService) GetForm(id string) (*FormView, error) {
	f, err := s.form(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view(), nil
}

func (s *ConsoleService) PatchForm(id string, p FormPatch) (*FormView, error) {
	f, err := s.form(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return nil, ErrSubmitting
	}
	if err := f.apply(p); err != nil {
		return nil, err
	}
	return f.view(), nil
}

// PutFace captures the image for face index, replacing any earlier capture.
func (s *ConsoleService) PutFace(id string, index int, fileName string, data []byte) (*CaptureView, error) {
	f, err := s.form(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return nil, ErrSubmitting
	}
	c, err := f.captures.Put(index, fileName, data)
	if err != nil {
		return nil, err
	}
	return &CaptureView{Index: c.Index, FileName: c.FileName, MimeType: c.MimeType, Preview: c.PreviewDataURL()}, nil
}

func (s *ConsoleService) RemoveFace(id string, index int) error {
	f, err := s.form(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitting {
		return ErrSubmitting
	}
	f.captures.Remove(index)
	return nil
}

// ValidateForm reports every violated rule of the form's current state.
func (s *ConsoleService) ValidateForm(id string) (draft.Errors, error) {
	f, err := s.form(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return s.validate(f), nil
}

// validate must be called with f.mu held.
func (s *ConsoleService) validate(f *form) draft.Errors {
	refs, err := f.refs.Data()
	if err != nil {
		refs = nil
	}
	return s.validator.Validate(f.draft, refs, f.captures.Len(), f.captures.FaceCount())
}

// SubmitResult is the outcome of a submission attempt. Errors is set when
// validation refused the draft and no request was made.
type SubmitResult struct {
	Errors   draft.Errors    `json:"errors,omitempty"`
	Outcome  *ingest.Outcome `json:"outcome,omitempty"`
	Redirect string          `json:"redirect,omitempty"`
}

// SubmitForm validates the form and runs the ingestion pipeline. Once the
// tile record is created the form is closed and the result redirects to the
// listing, even if later stages failed. A failed create keeps the form open
// and returns *ingest.CreateError.
func (s *ConsoleService) SubmitForm(ctx context.Context, id string) (*SubmitResult, error) {
	f, err := s.form(id)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return nil, ErrSubmitting
	}
	if errs := s.validate(f); !errs.OK() {
		f.mu.Unlock()
		return &SubmitResult{Errors: errs}, nil
	}
	refs, _ := f.refs.Data()
	sub := ingest.Submission{
		Draft:       f.draft,
		Refs:        refs,
		Files:       f.captures.Files(),
		Width:       f.width,
		Height:      f.height,
		RequestedBy: s.opts.RequestedBy,
	}
	f.submitting = true
	f.mu.Unlock()

	out, err := s.pipeline.Run(ctx, sub)

	f.mu.Lock()
	f.submitting = false
	if err != nil {
		f.mu.Unlock()
		return &SubmitResult{Outcome: out}, err
	}
	f.reset(s.opts.DefaultWidth, s.opts.DefaultHeight)
	f.mu.Unlock()
	s.forms.Remove(id)

	s.logger.Info("form submitted", "form_id", id, "run_id", out.RunID, "degraded", out.Degraded())
	return &SubmitResult{Outcome: out, Redirect: ListingPath}, nil
}

// CancelForm discards the form and releases its reference data.
func (s *ConsoleService) CancelForm(id string) error {
	if !s.forms.Remove(id) {
		return ErrSessionNotFound
	}
	return nil
}

func (s *ConsoleService) ImportSpreadsheet(ctx context.Context, file backend.Upload) (*bulk.Result, error) {
	return s.importer.ImportSpreadsheet(ctx, file)
}

func (s *ConsoleService) ImportFolder(ctx context.Context, files []backend.Upload) (*bulk.Result, error) {
	return s.importer.ImportFolder(ctx, files)
}

func (s *ConsoleService) ListTiles(ctx context.Context) ([]domain.Tile, error) {
	return s.directory.List(ctx)
}

// Variant is one discovered face variant of a tile.
type Variant struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type TileDetail struct {
	Tile     *domain.Tile `json:"tile"`
	Images   tiles.Images `json:"images"`
	Variants []Variant    `json:"variants"`
}

// FindTile looks a tile up by SKU code and resolves its image URLs.
func (s *ConsoleService) FindTile(ctx context.Context, skuCode string) (*domain.Tile, tiles.Images, error) {
	t, err := s.directory.FindBySKU(ctx, skuCode)
	if err != nil {
		return nil, tiles.Images{}, err
	}
	return t, s.directory.Images(*t), nil
}

// VariantURL is the thumbnail location of a discovered variant.
func (s *ConsoleService) VariantURL(name string) string {
	return s.directory.VariantURL(name)
}

// TileDetail looks a tile up by SKU code and discovers its face variants.
// Cancelling ctx abandons discovery.
func (s *ConsoleService) TileDetail(ctx context.Context, skuCode string) (*TileDetail, error) {
	t, err := s.directory.FindBySKU(ctx, skuCode)
	if err != nil {
		return nil, err
	}
	names, err := s.variants.Discover(ctx, t.SkuCode)
	if err != nil {
		return nil, fmt.Errorf("failed to discover variants of %s: %w", t.SkuCode, err)
	}
	detail := &TileDetail{Tile: t, Images: s.directory.Images(*t), Variants: make([]Variant, 0, len(names))}
	for _, n := range names {
		detail.Variants = append(detail.Variants, Variant{Name: n, URL: s.directory.VariantURL(n)})
	}
	return detail, nil
}

func (s *ConsoleService) SetBlocked(ctx context.Context, tileID int64, block bool) error {
	return s.directory.SetBlocked(ctx, s.opts.RequestedBy, tileID, block)
}

func (s *ConsoleService) EditTile(ctx context.Context, e tiles.Edit) error {
	if e.RequestedBy == "" {
		e.RequestedBy = s.opts.RequestedBy
	}
	return s.directory.Edit(ctx, e)
}

func (s *ConsoleService) ExportTiles(ctx context.Context) (domain.Artifact, error) {
	return s.directory.Export(ctx)
}

// OpenArtifact returns a stored artifact. The caller must close the reader.
func (s *ConsoleService) OpenArtifact(ctx context.Context, key string) (io.ReadCloser, domain.Artifact, error) {
	return s.artifacts.Get(ctx, key)
}

// RunHistory is the recent activity of the console.
type RunHistory struct {
	Ingests []*domain.IngestRun `json:"ingests"`
	Imports []*domain.ImportRun `json:"imports"`
}

func (s *ConsoleService) ListRuns(ctx context.Context, skuCode string, limit int) (*RunHistory, error) {
	ingests, err := s.runs.ListIngestRuns(ctx, skuCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}
	h := &RunHistory{Ingests: ingests, Imports: []*domain.ImportRun{}}
	if h.Ingests == nil {
		h.Ingests = []*domain.IngestRun{}
	}
	if skuCode != "" {
		return h, nil
	}
	imports, err := s.runs.ListImportRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	if imports != nil {
		h.Imports = imports
	}
	return h, nil
}

// GetRun returns the ingest or import run with the given id.
func (s *ConsoleService) GetRun(ctx context.Context, id string) (any, error) {
	ingestRun, err := s.runs.GetIngestRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if ingestRun != nil {
		return ingestRun, nil
	}
	importRun, err := s.runs.GetImportRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if importRun != nil {
		return importRun, nil
	}
	return nil, ErrRunNotFound
}
