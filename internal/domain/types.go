package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Attribute identifies one of the six lookup-backed fields of a tile.
// The value is the multipart field name the backend expects for the id.
type Attribute string

const (
	AttrCategory    Attribute = "CatId"
	AttrApplication Attribute = "AppId"
	AttrSpace       Attribute = "SpaceId"
	AttrSize        Attribute = "SizeId"
	AttrFinish      Attribute = "FinishId"
	AttrColor       Attribute = "ColorId"
)

// Attributes lists the lookup attributes in form order.
var Attributes = []Attribute{AttrCategory, AttrApplication, AttrSpace, AttrSize, AttrFinish, AttrColor}

// Label is the human-readable field label used in validation messages.
func (a Attribute) Label() string {
	switch a {
	case AttrCategory:
		return "Category"
	case AttrApplication:
		return "Application"
	case AttrSpace:
		return "Space"
	case AttrSize:
		return "Size"
	case AttrFinish:
		return "Finish"
	case AttrColor:
		return "Color"
	default:
		return string(a)
	}
}

// NameField is the multipart field carrying the resolved display name.
func (a Attribute) NameField() string {
	return strings.TrimSuffix(string(a), "Id") + "Name"
}

type LookupItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReferenceData holds the six lookup lists a draft is resolved against.
type ReferenceData struct {
	Categories   []LookupItem `json:"categories"`
	Applications []LookupItem `json:"applications"`
	Spaces       []LookupItem `json:"spaces"`
	Sizes        []LookupItem `json:"sizes"`
	Finishes     []LookupItem `json:"finishes"`
	Colors       []LookupItem `json:"colors"`
}

// List returns the lookup list backing attribute a.
func (r *ReferenceData) List(a Attribute) []LookupItem {
	if r == nil {
		return nil
	}
	switch a {
	case AttrCategory:
		return r.Categories
	case AttrApplication:
		return r.Applications
	case AttrSpace:
		return r.Spaces
	case AttrSize:
		return r.Sizes
	case AttrFinish:
		return r.Finishes
	case AttrColor:
		return r.Colors
	default:
		return nil
	}
}

// Resolve returns the display name for id within attribute a's list.
func (r *ReferenceData) Resolve(a Attribute, id string) (string, bool) {
	for _, item := range r.List(a) {
		if item.ID == id {
			return item.Name, true
		}
	}
	return "", false
}

// ProductDraft is an in-progress, not yet submitted tile record.
type ProductDraft struct {
	SkuName       string `json:"SkuName"`
	SkuCode       string `json:"SkuCode"`
	CategoryID    string `json:"CatId"`
	ApplicationID string `json:"AppId"`
	SpaceID       string `json:"SpaceId"`
	SizeID        string `json:"SizeId"`
	FinishID      string `json:"FinishId"`
	ColorID       string `json:"ColorId"`
}

func (d *ProductDraft) AttributeID(a Attribute) string {
	switch a {
	case AttrCategory:
		return d.CategoryID
	case AttrApplication:
		return d.ApplicationID
	case AttrSpace:
		return d.SpaceID
	case AttrSize:
		return d.SizeID
	case AttrFinish:
		return d.FinishID
	case AttrColor:
		return d.ColorID
	default:
		return ""
	}
}

func (d *ProductDraft) SetAttributeID(a Attribute, id string) {
	switch a {
	case AttrCategory:
		d.CategoryID = id
	case AttrApplication:
		d.ApplicationID = id
	case AttrSpace:
		d.SpaceID = id
	case AttrSize:
		d.SizeID = id
	case AttrFinish:
		d.FinishID = id
	case AttrColor:
		d.ColorID = id
	}
}

// Flag decodes the backend's loosely typed booleans (true, 1, "1", "true").
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "", "null", "0", "false":
		*f = false
		return nil
	case "1", "true":
		*f = true
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*f = n != 0
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Flag(v)
	return nil
}

// Tile is a catalog record as returned by the tile listing endpoint.
type Tile struct {
	ID              int64  `json:"tile_id"`
	SkuName         string `json:"sku_name"`
	SkuCode         string `json:"sku_code"`
	CategoryName    string `json:"cat_name"`
	ApplicationName string `json:"app_name"`
	SpaceName       string `json:"space_name"`
	SizeName        string `json:"size_name"`
	FinishName      string `json:"finish_name"`
	ColorName       string `json:"color_name"`
	Image           string `json:"image,omitempty"`
	ThumbImage      string `json:"thumb_image,omitempty"`
	FacesImage      string `json:"faces_image,omitempty"`
	Blocked         Flag   `json:"block"`
}

// Stage names one remote operation within a pipeline.
type Stage string

const (
	StageCreate          Stage = "create"
	StageResizeSingle    Stage = "resize-single"
	StageResizeImage     Stage = "resize-image"
	StageSingleProdFaces Stage = "single-prod-faces"
	StageSpreadsheet     Stage = "spreadsheet"
	StageResizeFolder    Stage = "resize-folder"
	StageFolderFaces     Stage = "folder-faces"
)

type StageStatus string

const (
	StatusSuccess StageStatus = "success"
	StatusFailure StageStatus = "failure"
)

type StageResult struct {
	Stage  Stage       `json:"stage"`
	Status StageStatus `json:"status"`
	Detail string      `json:"detail"`
}

func (r StageResult) OK() bool { return r.Status == StatusSuccess }

func Succeeded(stage Stage, detail string) StageResult {
	return StageResult{Stage: stage, Status: StatusSuccess, Detail: detail}
}

func Failed(stage Stage, detail string) StageResult {
	return StageResult{Stage: stage, Status: StatusFailure, Detail: detail}
}

// Artifact is a payload kept server side for later download.
type Artifact struct {
	Key      string `json:"key"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// ResizedImage describes one file processed by a resize endpoint.
type ResizedImage struct {
	FileName string `json:"FileName"`
	BigURL   string `json:"BigUrl,omitempty"`
	ThumbURL string `json:"ThumbUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

type IngestRun struct {
	ID          string        `json:"id"`
	SkuCode     string        `json:"sku_code"`
	SkuName     string        `json:"sku_name"`
	RequestedBy string        `json:"requested_by"`
	Committed   bool          `json:"committed"`
	Stages      []StageResult `json:"stages"`
	CreatedAt   time.Time     `json:"created_at"`
}

type ImportKind string

const (
	ImportSpreadsheet ImportKind = "spreadsheet"
	ImportFolder      ImportKind = "folder"
)

type ImportRun struct {
	ID        string         `json:"id"`
	Kind      ImportKind     `json:"kind"`
	Batch     string         `json:"batch,omitempty"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Message   string         `json:"message,omitempty"`
	Stages    []StageResult  `json:"stages"`
	Files     []ResizedImage `json:"files,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
