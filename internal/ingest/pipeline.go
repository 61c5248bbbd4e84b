package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/tileconsole/internal/artifact"
	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/domain"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 600
)

// Backend is the subset of the catalog client the pipeline drives.
type Backend interface {
	AddTile(ctx context.Context, r backend.AddTileRequest) error
	ResizeSingle(ctx context.Context, productName string, files []backend.Upload) (*backend.ResizeReply, error)
	ResizeImage(ctx context.Context, width, height int, productName string, files []backend.Upload) (*backend.Payload, error)
	SingleProductFaces(ctx context.Context, width, height int, name string, files []backend.Upload) error
}

type RunRecorder interface {
	CreateIngestRun(ctx context.Context, run *domain.IngestRun) error
}

// Submission is a validated draft ready for ingestion.
type Submission struct {
	Draft       domain.ProductDraft
	Refs        *domain.ReferenceData
	Files       []backend.Upload
	Width       int
	Height      int
	RequestedBy string
}

// Outcome is the result of one ingestion run: the mandatory create result
// and the results of the best-effort enhancement stages that followed it.
type Outcome struct {
	RunID        string               `json:"run_id"`
	Create       domain.StageResult   `json:"create"`
	Enhancements []domain.StageResult `json:"enhancements"`
	Download     *domain.Artifact     `json:"download,omitempty"`
}

// Committed reports whether the tile record was created.
func (o *Outcome) Committed() bool { return o.Create.OK() }

// Degraded reports whether the record was created but an enhancement failed.
func (o *Outcome) Degraded() bool {
	if !o.Committed() {
		return false
	}
	for _, r := range o.Enhancements {
		if !r.OK() {
			return true
		}
	}
	return false
}

// Stages returns every stage result in execution order.
func (o *Outcome) Stages() []domain.StageResult {
	return append([]domain.StageResult{o.Create}, o.Enhancements...)
}

// CreateError is returned when the create stage fails. Nothing was persisted
// on the backend and no image stage ran.
type CreateError struct {
	Message string
	Err     error
}

func (e *CreateError) Error() string { return "create tile: " + e.Message }

func (e *CreateError) Unwrap() error { return e.Err }

type Pipeline struct {
	backend   Backend
	artifacts artifact.Store
	runs      RunRecorder
	logger    *slog.Logger
	now       func() time.Time
}

func NewPipeline(b Backend, artifacts artifact.Store, runs RunRecorder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{backend: b, artifacts: artifacts, runs: runs, logger: logger, now: time.Now}
}

// Run executes the stages strictly in order. A failed create halts the run
// and is returned as *CreateError alongside the outcome. Once the create
// stage has committed, the remaining stages run to completion regardless of
// ctx cancellation, and their failures are recorded rather than returned.
func (p *Pipeline) Run(ctx context.Context, sub Submission) (*Outcome, error) {
	if sub.Width <= 0 {
		sub.Width = DefaultWidth
	}
	if sub.Height <= 0 {
		sub.Height = DefaultHeight
	}
	draft := sub.Draft
	out := &Outcome{RunID: uuid.NewString()}
	log := p.logger.With("run_id", out.RunID, "sku_code", draft.SkuCode)

	if err := p.backend.AddTile(ctx, addTileRequest(sub)); err != nil {
		msg := backend.Describe(err)
		out.Create = domain.Failed(domain.StageCreate, msg)
		p.logStage(log, out.Create)
		p.record(ctx, sub, out)
		return out, &CreateError{Message: msg, Err: err}
	}
	out.Create = domain.Succeeded(domain.StageCreate, "Tile details added successfully")
	p.logStage(log, out.Create)

	ctx = context.WithoutCancel(ctx)
	if len(sub.Files) > 0 {
		out.Enhancements = append(out.Enhancements, p.resizeSingle(ctx, sub))
		p.logStage(log, out.Enhancements[len(out.Enhancements)-1])

		res, download := p.resizeImage(ctx, sub)
		out.Enhancements = append(out.Enhancements, res)
		out.Download = download
		p.logStage(log, res)

		out.Enhancements = append(out.Enhancements, p.singleProductFaces(ctx, sub))
		p.logStage(log, out.Enhancements[len(out.Enhancements)-1])
	}

	p.record(ctx, sub, out)
	return out, nil
}

func addTileRequest(sub Submission) backend.AddTileRequest {
	req := backend.AddTileRequest{
		SkuName:     sub.Draft.SkuName,
		SkuCode:     sub.Draft.SkuCode,
		IDs:         map[domain.Attribute]string{},
		Names:       map[domain.Attribute]string{},
		RequestedBy: sub.RequestedBy,
	}
	for _, a := range domain.Attributes {
		id := sub.Draft.AttributeID(a)
		req.IDs[a] = id
		// Unresolved ids are sent with an empty name.
		name, _ := sub.Refs.Resolve(a, id)
		req.Names[a] = name
	}
	return req
}

func (p *Pipeline) resizeSingle(ctx context.Context, sub Submission) domain.StageResult {
	reply, err := p.backend.ResizeSingle(ctx, sub.Draft.SkuName, sub.Files)
	if err != nil {
		return domain.Failed(domain.StageResizeSingle, backend.Describe(err))
	}
	if reply.Images == nil {
		return domain.Succeeded(domain.StageResizeSingle, "Images resized successfully")
	}
	parts := make([]string, 0, len(reply.Images))
	for _, img := range reply.Images {
		parts = append(parts, fmt.Sprintf("Image resized: %s - Big: %s, Thumb: %s", img.FileName, img.BigURL, img.ThumbURL))
	}
	return domain.Succeeded(domain.StageResizeSingle, strings.Join(parts, "; "))
}

func (p *Pipeline) resizeImage(ctx context.Context, sub Submission) (domain.StageResult, *domain.Artifact) {
	payload, err := p.backend.ResizeImage(ctx, sub.Width, sub.Height, sub.Draft.SkuName, sub.Files)
	if err != nil {
		return domain.Failed(domain.StageResizeImage, backend.Describe(err)), nil
	}
	if p.artifacts == nil {
		return domain.Succeeded(domain.StageResizeImage, "Resized image generated"), nil
	}
	saved, err := p.artifacts.Save(ctx, sub.Draft.SkuName+"_resized.png", payload.ContentType, bytes.NewReader(payload.Data))
	if err != nil {
		p.logger.Error("failed to store resized image", "sku_code", sub.Draft.SkuCode, "error", err)
		return domain.Failed(domain.StageResizeImage, "Resized image could not be stored"), nil
	}
	return domain.Succeeded(domain.StageResizeImage, "Resized images downloaded"), &saved
}

func (p *Pipeline) singleProductFaces(ctx context.Context, sub Submission) domain.StageResult {
	if err := p.backend.SingleProductFaces(ctx, sub.Width, sub.Height, sub.Draft.SkuName, sub.Files); err != nil {
		return domain.Failed(domain.StageSingleProdFaces, backend.Describe(err))
	}
	return domain.Succeeded(domain.StageSingleProdFaces, "Face processing completed")
}

func (p *Pipeline) logStage(log *slog.Logger, r domain.StageResult) {
	if r.OK() {
		log.Info("stage completed", "stage", r.Stage, "status", r.Status)
		return
	}
	log.Warn("stage failed", "stage", r.Stage, "status", r.Status, "detail", r.Detail)
}

// record stores the run in history. History is advisory, so a failure is
// logged and the outcome is returned unchanged.
func (p *Pipeline) record(ctx context.Context, sub Submission, out *Outcome) {
	if p.runs == nil {
		return
	}
	run := &domain.IngestRun{
		ID:          out.RunID,
		SkuCode:     sub.Draft.SkuCode,
		SkuName:     sub.Draft.SkuName,
		RequestedBy: sub.RequestedBy,
		Committed:   out.Committed(),
		Stages:      out.Stages(),
		CreatedAt:   p.now().UTC(),
	}
	if err := p.runs.CreateIngestRun(context.WithoutCancel(ctx), run); err != nil {
		p.logger.Error("failed to record ingest run", "run_id", out.RunID, "error", err)
	}
}

// IsAlreadyExists reports whether err is a create failure caused by a
// duplicate SKU.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, backend.ErrAlreadyExists)
}
