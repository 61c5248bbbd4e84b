package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vbonduro/tileconsole/internal/artifact"
	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/domain"
	"github.com/vbonduro/tileconsole/internal/draft"
)

var (
	ErrInvalidSKU = errors.New("invalid SKU code")
	ErrNotFound   = errors.New("tile not found")
)

// Backend is the subset of the catalog API the directory uses.
type Backend interface {
	ListTiles(ctx context.Context) ([]domain.Tile, error)
	EditTile(ctx context.Context, r backend.EditTileRequest) error
	BlockTile(ctx context.Context, userID string, tileID int64, block bool) error
	ExportTiles(ctx context.Context) (*backend.Payload, error)
}

type Options struct {
	BigBaseURL   string
	ThumbBaseURL string
	NoImageURL   string
}

// Images holds the absolute URLs of a tile's stored renditions.
type Images struct {
	Big   string `json:"big"`
	Thumb string `json:"thumb"`
	Faces string `json:"faces"`
	// Fallback is shown when one of the other URLs fails to load.
	Fallback string `json:"fallback,omitempty"`
}

// Edit carries the editable fields of an existing tile.
type Edit struct {
	TileID      int64
	SkuName     string
	SkuCode     string
	Names       map[domain.Attribute]string
	RequestedBy string
}

type Directory struct {
	backend   Backend
	artifacts artifact.Store
	validator *draft.Validator
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewDirectory(b Backend, artifacts artifact.Store, opts Options, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		backend:   b,
		artifacts: artifacts,
		validator: draft.NewValidator(),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

func (d *Directory) List(ctx context.Context) ([]domain.Tile, error) {
	tiles, err := d.backend.ListTiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiles: %w", err)
	}
	return tiles, nil
}

// FindBySKU scans the listing for a tile whose trimmed SKU code equals
// skuCode. Malformed codes are rejected without contacting the backend.
func (d *Directory) FindBySKU(ctx context.Context, skuCode string) (*domain.Tile, error) {
	skuCode = strings.TrimSpace(skuCode)
	if !draft.ValidSKUCode(skuCode) {
		return nil, ErrInvalidSKU
	}
	tiles, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tiles {
		if strings.TrimSpace(tiles[i].SkuCode) == skuCode {
			return &tiles[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no tile found with SKU code %s", ErrNotFound, skuCode)
}

// Images resolves a tile's rendition URLs. Missing file names fall back to
// {sku}.jpg under the respective base.
func (d *Directory) Images(t domain.Tile) Images {
	fallback := strings.TrimSpace(t.SkuCode) + ".jpg"
	return Images{
		Big:      d.opts.BigBaseURL + orDefault(t.Image, fallback),
		Thumb:    d.opts.ThumbBaseURL + orDefault(t.ThumbImage, fallback),
		Faces:    d.opts.BigBaseURL + orDefault(t.FacesImage, fallback),
		Fallback: d.opts.NoImageURL,
	}
}

// VariantURL is the thumbnail location of a face variant.
func (d *Directory) VariantURL(variant string) string {
	return d.opts.ThumbBaseURL + variant + ".jpg"
}

func (d *Directory) SetBlocked(ctx context.Context, userID string, tileID int64, block bool) error {
	if err := d.backend.BlockTile(ctx, userID, tileID, block); err != nil {
		return fmt.Errorf("failed to update block status of tile %d: %w", tileID, err)
	}
	d.logger.Info("tile block status updated", "tile_id", tileID, "blocked", block, "user", userID)
	return nil
}

// Edit validates e and submits it. Validation failures are returned as
// draft.Errors without a request being made.
func (d *Directory) Edit(ctx context.Context, e Edit) error {
	if errs := d.validator.ValidateEdit(e.SkuName, e.SkuCode, e.Names); !errs.OK() {
		return errs
	}
	names := make(map[domain.Attribute]string, len(e.Names))
	for a, n := range e.Names {
		names[a] = strings.TrimSpace(n)
	}
	err := d.backend.EditTile(ctx, backend.EditTileRequest{
		TileID:      e.TileID,
		SkuName:     strings.TrimSpace(e.SkuName),
		SkuCode:     strings.TrimSpace(e.SkuCode),
		Names:       names,
		RequestedBy: e.RequestedBy,
	})
	if err != nil {
		return fmt.Errorf("failed to edit tile %d: %w", e.TileID, err)
	}
	d.logger.Info("tile updated", "tile_id", e.TileID, "sku_code", e.SkuCode)
	return nil
}

// ExportName is the download name of a tile list exported at t.
func ExportName(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("TileList_%s%03d.xlsx", t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond))
}

// Export downloads the backend's tile list workbook into the artifact store.
func (d *Directory) Export(ctx context.Context) (domain.Artifact, error) {
	payload, err := d.backend.ExportTiles(ctx)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to export tiles: %w", err)
	}
	a, err := d.artifacts.Save(ctx, ExportName(d.now()), payload.ContentType, bytes.NewReader(payload.Data))
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("failed to store export: %w", err)
	}
	d.logger.Info("tile list exported", "key", a.Key, "size", a.Size)
	return a, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
