package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vbonduro/tileconsole/internal/domain"
)

const (
	pathAddTile         = "/AddTile"
	pathEditTile        = "/EditTile"
	pathTileList        = "/GetTileList"
	pathBlockTile       = "/BlockTile"
	pathExportExcel     = "/ExportToExcel"
	pathImportExcel     = "/ImportFromExcel"
	pathResizeSingle    = "/api/resize-single"
	pathResizeImage     = "/api/resize-image"
	pathSingleProdFaces = "/api/single-prod-faces"
	pathResizeFolder    = "/api/resize-folder"
	pathFolderFaces     = "/process-folder-faces-with-bluepatch"

	// sizeListPlaceholder is sent in place of a size list workbook; the
	// face+overlay endpoint requires the part but reads sizes server side.
	sizeListPlaceholder = "SizeListFormat.xlsx"

	xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Upload is one file part of a multipart request.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

type Options struct {
	// BaseURL is the catalog API root (AddTile, GetTileList, ...).
	BaseURL string
	// ImageBaseURL is the image-processing API root. Defaults to BaseURL.
	ImageBaseURL string
	Timeout      time.Duration
	UserAgent    string
}

// Client talks to the catalog backend and its image-processing endpoints.
// It never retries; callers decide whether a failed call is resubmitted.
type Client struct {
	catalog *resty.Client
	images  *resty.Client
}

func NewClient(opts Options) *Client {
	if opts.ImageBaseURL == "" {
		opts.ImageBaseURL = opts.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tileconsole/1.0"
	}
	return &Client{
		catalog: newResty(opts.BaseURL, opts.Timeout, opts.UserAgent),
		images:  newResty(opts.ImageBaseURL, opts.Timeout, opts.UserAgent),
	}
}

func newResty(baseURL string, timeout time.Duration, userAgent string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
}

// AddTileRequest is the create-stage payload: ids, resolved names and the
// requesting user.
type AddTileRequest struct {
	SkuName     string
	SkuCode     string
	IDs         map[domain.Attribute]string
	Names       map[domain.Attribute]string
	RequestedBy string
}

func (r AddTileRequest) formData() map[string]string {
	fields := map[string]string{
		"SkuName":   r.SkuName,
		"SkuCode":   r.SkuCode,
		"RequestBy": r.RequestedBy,
	}
	for _, attr := range domain.Attributes {
		fields[string(attr)] = r.IDs[attr]
		fields[attr.NameField()] = r.Names[attr]
	}
	return fields
}

// AddTile creates the tile record. Only the exact reply "success" counts as
// created; any other body is a definitive failure.
func (c *Client) AddTile(ctx context.Context, r AddTileRequest) error {
	resp, err := c.catalog.R().
		SetContext(ctx).
		SetMultipartFormData(r.formData()).
		Post(pathAddTile)
	if err != nil {
		return transportError("add tile", err)
	}
	return successToken(resp, "Failed to add tile")
}

// EditTileRequest updates names of an existing tile.
type EditTileRequest struct {
	TileID      int64
	SkuName     string
	SkuCode     string
	Names       map[domain.Attribute]string
	RequestedBy string
}

func (c *Client) EditTile(ctx context.Context, r EditTileRequest) error {
	fields := map[string]string{
		"TileId":    strconv.FormatInt(r.TileID, 10),
		"SkuName":   r.SkuName,
		"SkuCode":   r.SkuCode,
		"RequestBy": r.RequestedBy,
	}
	for _, attr := range domain.Attributes {
		fields[attr.NameField()] = r.Names[attr]
	}
	resp, err := c.catalog.R().
		SetContext(ctx).
		SetMultipartFormData(fields).
		Post(pathEditTile)
	if err != nil {
		return transportError("edit tile", err)
	}
	return successToken(resp, "Failed to update tile")
}

func successToken(resp *resty.Response, fallback string) error {
	if resp.IsError() {
		return replyError(resp, fallback)
	}
	body := bytes.TrimSpace(resp.Body())
	token := string(body)
	var quoted string
	if err := json.Unmarshal(body, &quoted); err == nil {
		token = quoted
	}
	switch token {
	case "success":
		return nil
	case codeAlreadyExists:
		return &APIError{Status: resp.StatusCode(), Code: codeAlreadyExists, Message: "Tile already exists."}
	}
	if env, ok := parseEnvelope(body); ok {
		if env.OK {
			return nil
		}
		return &APIError{Status: resp.StatusCode(), Code: env.Code, Message: orDefault(env.Message, fallback)}
	}
	return &APIError{Status: resp.StatusCode(), Message: orDefault(Message(body), fallback)}
}

// ListTiles fetches the tile listing. The backend has answered with a bare
// array and with {tiles}, {data: {tiles}} and {data: [...]} wrappers.
func (c *Client) ListTiles(ctx context.Context) ([]domain.Tile, error) {
	resp, err := c.catalog.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(pathTileList)
	if err != nil {
		return nil, transportError("list tiles", err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusNotFound {
			return nil, &APIError{Status: resp.StatusCode(), Message: "Tile list endpoint not found."}
		}
		return nil, replyError(resp, "Failed to fetch tile list")
	}
	return decodeTileList(resp.Body())
}

func decodeTileList(body []byte) ([]domain.Tile, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var tiles []domain.Tile
		if err := json.Unmarshal(trimmed, &tiles); err != nil {
			return nil, fmt.Errorf("failed to decode tile list: %w", err)
		}
		return tiles, nil
	}

	var wrapper struct {
		Tiles json.RawMessage `json:"tiles"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode tile list: %w", err)
	}
	switch {
	case len(wrapper.Tiles) > 0:
		return decodeTileList(wrapper.Tiles)
	case len(wrapper.Data) > 0:
		d := bytes.TrimSpace(wrapper.Data)
		if d[0] == '[' || d[0] == '{' {
			return decodeTileList(d)
		}
		return []domain.Tile{}, nil
	}
	return nil, errors.New("unexpected tile list response structure")
}

// BlockTile toggles the blocked flag of a tile on behalf of userID.
func (c *Client) BlockTile(ctx context.Context, userID string, tileID int64, block bool) error {
	flag := "0"
	if block {
		flag = "1"
	}
	resp, err := c.catalog.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"user": userID,
			"tile": strconv.FormatInt(tileID, 10),
			"flag": flag,
		}).
		Get(pathBlockTile + "/{user}/{tile}/{flag}")
	if err != nil {
		return transportError("block tile", err)
	}
	return successToken(resp, "Failed to update block status")
}

// ExportTiles downloads the backend's tile list workbook.
func (c *Client) ExportTiles(ctx context.Context) (*Payload, error) {
	resp, err := c.catalog.R().SetContext(ctx).Get(pathExportExcel)
	if err != nil {
		return nil, transportError("export tiles", err)
	}
	if resp.IsError() || len(resp.Body()) == 0 {
		return nil, replyError(resp, "Failed to export tile list")
	}
	return &Payload{Data: resp.Body(), ContentType: orDefault(mediaType(resp), xlsxMIME)}, nil
}

// SpreadsheetReply is the reply of the spreadsheet import endpoint.
type SpreadsheetReply struct {
	Message  string
	Envelope *Envelope
}

func (c *Client) ImportSpreadsheet(ctx context.Context, file Upload) (*SpreadsheetReply, error) {
	resp, err := c.catalog.R().
		SetContext(ctx).
		SetMultipartField("file", file.FileName, orDefault(file.ContentType, xlsxMIME), bytes.NewReader(file.Data)).
		Post(pathImportExcel)
	if err != nil {
		return nil, transportError("import spreadsheet", err)
	}
	if resp.IsError() {
		return nil, replyError(resp, "Error importing Excel")
	}
	reply := &SpreadsheetReply{}
	if env, ok := parseEnvelope(resp.Body()); ok {
		reply.Envelope = env
		reply.Message = env.Message
		return reply, nil
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		reply.Message = body.Message
	} else {
		reply.Message = Message(resp.Body())
	}
	return reply, nil
}

// ResizeReply is the outcome of a standard resize. Images is nil when the
// service answered with a generic success indicator instead of a list.
type ResizeReply struct {
	Images []domain.ResizedImage
}

// ResizeSingle generates big and thumbnail renditions for a product's faces.
func (c *Client) ResizeSingle(ctx context.Context, productName string, files []Upload) (*ResizeReply, error) {
	req := c.images.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{"product_name": productName})
	attach(req, "files", files)
	resp, err := req.Post(pathResizeSingle)
	if err != nil {
		return nil, transportError("resize single", err)
	}
	images, err := resizeResults(resp, "Resize single failed")
	if err != nil {
		return nil, err
	}
	return &ResizeReply{Images: images}, nil
}

// ResizeFolder resizes every file of a folder batch. Entries carrying an
// error are returned alongside successful ones.
func (c *Client) ResizeFolder(ctx context.Context, folderName string, files []Upload) ([]domain.ResizedImage, error) {
	req := c.images.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{"folderName": folderName})
	attach(req, "files", files)
	resp, err := req.Post(pathResizeFolder)
	if err != nil {
		return nil, transportError("resize folder", err)
	}
	if resp.IsError() {
		return nil, replyError(resp, "Error processing folder")
	}
	var images []domain.ResizedImage
	if err := json.Unmarshal(resp.Body(), &images); err != nil {
		return nil, &APIError{Status: resp.StatusCode(), Message: "Unexpected response from resize-folder"}
	}
	return images, nil
}

// resizeResults accepts either a list of per-file descriptors or a generic
// truthy indicator. Falsy or error-bearing replies fail.
func resizeResults(resp *resty.Response, fallback string) ([]domain.ResizedImage, error) {
	if err := indicator(resp, fallback, false); err != nil {
		return nil, err
	}
	body := bytes.TrimSpace(resp.Body())
	if body[0] != '[' {
		return nil, nil
	}
	var images []domain.ResizedImage
	if err := json.Unmarshal(body, &images); err != nil {
		return nil, &APIError{Status: resp.StatusCode(), Message: fallback}
	}
	var failed []string
	for _, img := range images {
		if img.Error != "" {
			failed = append(failed, img.FileName+": "+img.Error)
		}
	}
	if len(failed) > 0 {
		return images, &APIError{Status: resp.StatusCode(), Message: strings.Join(failed, ", ")}
	}
	return images, nil
}

// Payload is a binary reply.
type Payload struct {
	Data        []byte
	ContentType string
}

// ResizeImage resizes the faces to explicit dimensions and returns the image
// the service produced. Anything but a 200 carrying image bytes fails.
func (c *Client) ResizeImage(ctx context.Context, width, height int, productName string, files []Upload) (*Payload, error) {
	req := c.images.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"width":        strconv.Itoa(width),
			"height":       strconv.Itoa(height),
			"product_name": productName,
		})
	attach(req, "images", files)
	resp, err := req.Post(pathResizeImage)
	if err != nil {
		return nil, transportError("resize image", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, replyError(resp, "Failed to retrieve resized image or invalid response")
	}
	ct := mediaType(resp)
	if !isBinaryImage(ct, resp.Body()) {
		return nil, &APIError{Status: resp.StatusCode(), Message: "Failed to retrieve resized image or invalid response"}
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(resp.Body())
	}
	return &Payload{Data: resp.Body(), ContentType: ct}, nil
}

// SingleProductFaces composites the faces into the product's asset folder.
func (c *Client) SingleProductFaces(ctx context.Context, width, height int, name string, files []Upload) error {
	req := c.images.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"width":  strconv.Itoa(width),
			"height": strconv.Itoa(height),
			"name":   name,
		})
	attach(req, "images", files)
	resp, err := req.Post(pathSingleProdFaces)
	if err != nil {
		return transportError("single product faces", err)
	}
	return indicator(resp, "Face processing failed", false)
}

// ProcessFolderFaces runs face extraction and the overlay step over a batch
// previously uploaded with ResizeFolder.
func (c *Client) ProcessFolderFaces(ctx context.Context, folderName string) error {
	resp, err := c.images.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{"folderName": folderName}).
		SetMultipartField("excelFile", sizeListPlaceholder, xlsxMIME, bytes.NewReader(nil)).
		Post(pathFolderFaces)
	if err != nil {
		return transportError("process folder faces", err)
	}
	return indicator(resp, "Error processing folder", true)
}

func indicator(resp *resty.Response, fallback string, allowEmpty bool) error {
	if resp.IsError() {
		return replyError(resp, fallback)
	}
	body := resp.Body()
	if env, ok := parseEnvelope(body); ok {
		if env.OK {
			return nil
		}
		return &APIError{Status: resp.StatusCode(), Code: env.Code, Message: orDefault(env.Message, fallback)}
	}
	if msg, bad := errorField(body); bad {
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	if falsy(body) && !(allowEmpty && len(bytes.TrimSpace(body)) == 0) {
		return &APIError{Status: resp.StatusCode(), Message: fallback}
	}
	return nil
}

func attach(req *resty.Request, param string, files []Upload) {
	for _, f := range files {
		ct := f.ContentType
		if ct == "" {
			ct = http.DetectContentType(f.Data)
		}
		req.SetMultipartField(param, f.FileName, ct, bytes.NewReader(f.Data))
	}
}

func replyError(resp *resty.Response, fallback string) error {
	msg := Message(resp.Body())
	if msg == "" {
		msg = fallback
	}
	apiErr := &APIError{Status: resp.StatusCode(), Message: msg}
	if env, ok := parseEnvelope(resp.Body()); ok {
		apiErr.Code = env.Code
	}
	return apiErr
}

func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnreachable, err)
}

func mediaType(resp *resty.Response) string {
	ct := resp.Header().Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mt
}

// isBinaryImage reports whether a reply carries image bytes rather than a
// JSON or text message.
func isBinaryImage(contentType string, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return true
	}
	if strings.HasPrefix(sniffed, "text/") {
		return false
	}
	return strings.HasPrefix(contentType, "image/") || contentType == "application/octet-stream"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
