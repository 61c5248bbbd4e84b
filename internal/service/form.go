package service

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vbonduro/tileconsole/internal/capture"
	"github.com/vbonduro/tileconsole/internal/domain"
	"github.com/vbonduro/tileconsole/internal/refdata"
)

// form is the server-side state of one open product form. It owns its draft,
// its capture set and its reference data; nothing is shared across forms.
type form struct {
	id string

	mu         sync.Mutex
	draft      domain.ProductDraft
	captures   *capture.Set
	refs       *refdata.Session
	width      int
	height     int
	submitting bool
}

// FormPatch carries field edits. Nil fields are left unchanged.
type FormPatch struct {
	SkuName   *string                     `json:"sku_name,omitempty"`
	SkuCode   *string                     `json:"sku_code,omitempty"`
	IDs       map[domain.Attribute]string `json:"ids,omitempty"`
	FaceCount *int                        `json:"face_count,omitempty"`
	Width     *int                        `json:"width,omitempty"`
	Height    *int                        `json:"height,omitempty"`
}

// CaptureView describes one captured face without its raw bytes.
type CaptureView struct {
	Index    int    `json:"index"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Preview  string `json:"preview"`
}

type FormView struct {
	ID         string                `json:"id"`
	Draft      domain.ProductDraft   `json:"draft"`
	FaceCount  int                   `json:"face_count"`
	Width      int                   `json:"width"`
	Height     int                   `json:"height"`
	Captures   []CaptureView         `json:"captures"`
	Missing    []int                 `json:"missing"`
	References *domain.ReferenceData `json:"references,omitempty"`
	Submitting bool                  `json:"submitting"`
}

// view must be called with f.mu held.
func (f *form) view() *FormView {
	v := &FormView{
		ID:         f.id,
		Draft:      f.draft,
		FaceCount:  f.captures.FaceCount(),
		Width:      f.width,
		Height:     f.height,
		Captures:   []CaptureView{},
		Missing:    f.captures.Missing(),
		Submitting: f.submitting,
	}
	for _, c := range f.captures.Captures() {
		v.Captures = append(v.Captures, CaptureView{
			Index:    c.Index,
			FileName: c.FileName,
			MimeType: c.MimeType,
			Preview:  c.PreviewDataURL(),
		})
	}
	if refs, err := f.refs.Data(); err == nil {
		v.References = refs
	}
	return v
}

// apply must be called with f.mu held. The patch is rejected as a whole if
// any part of it is invalid.
func (f *form) apply(p FormPatch) error {
	if p.FaceCount != nil && *p.FaceCount < 1 {
		return capture.ErrFaceCount
	}
	if (p.Width != nil && *p.Width < 1) || (p.Height != nil && *p.Height < 1) {
		return ErrInvalidDimension
	}
	for a := range p.IDs {
		if !knownAttribute(a) {
			return fmt.Errorf("%w: %s", ErrUnknownAttribute, a)
		}
	}

	if p.FaceCount != nil {
		if err := f.captures.SetFaceCount(*p.FaceCount); err != nil {
			return err
		}
	}
	if p.Width != nil {
		f.width = *p.Width
	}
	if p.Height != nil {
		f.height = *p.Height
	}
	if p.SkuName != nil {
		f.draft.SkuName = *p.SkuName
	}
	if p.SkuCode != nil {
		f.draft.SkuCode = *p.SkuCode
	}
	for a, id := range p.IDs {
		f.draft.SetAttributeID(a, strings.TrimSpace(id))
	}
	return nil
}

// reset must be called with f.mu held.
func (f *form) reset(width, height int) {
	f.draft = domain.ProductDraft{}
	f.captures.Reset()
	f.width = width
	f.height = height
}

func knownAttribute(a domain.Attribute) bool {
	for _, known := range domain.Attributes {
		if a == known {
			return true
		}
	}
	return false
}
