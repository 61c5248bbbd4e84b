package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/bulk"
	"github.com/vbonduro/tileconsole/internal/capture"
	"github.com/vbonduro/tileconsole/internal/db"
	"github.com/vbonduro/tileconsole/internal/domain"
	"github.com/vbonduro/tileconsole/internal/draft"
	"github.com/vbonduro/tileconsole/internal/ingest"
	"github.com/vbonduro/tileconsole/internal/refdata"
	"github.com/vbonduro/tileconsole/internal/store"
	"github.com/vbonduro/tileconsole/internal/tiles"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}

// stubFetcher answers every reference list with a single item of id "1".
type stubFetcher struct {
	err error
}

func (s *stubFetcher) Lookup(_ context.Context, list backend.LookupList) ([]domain.LookupItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []domain.LookupItem{{ID: "1", Name: list.Attribute.Label() + " one"}}, nil
}

// stubPipeline records submissions and returns a canned outcome.
type stubPipeline struct {
	mu      sync.Mutex
	subs    []ingest.Submission
	err     error
	release chan struct{}
	started chan struct{}
}

func (s *stubPipeline) Run(_ context.Context, sub ingest.Submission) (*ingest.Outcome, error) {
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	out := &ingest.Outcome{RunID: "run-1"}
	if s.err != nil {
		out.Create = domain.Failed(domain.StageCreate, s.err.Error())
		return out, &ingest.CreateError{Message: s.err.Error(), Err: s.err}
	}
	out.Create = domain.Succeeded(domain.StageCreate, "ok")
	out.Enhancements = []domain.StageResult{domain.Failed(domain.StageResizeSingle, "resize down")}
	return out, nil
}

type stubImporter struct {
	files []backend.Upload
}

func (s *stubImporter) ImportSpreadsheet(_ context.Context, file backend.Upload) (*bulk.Result, error) {
	s.files = []backend.Upload{file}
	return &bulk.Result{Run: &domain.ImportRun{Kind: domain.ImportSpreadsheet}}, nil
}

func (s *stubImporter) ImportFolder(_ context.Context, files []backend.Upload) (*bulk.Result, error) {
	s.files = files
	return &bulk.Result{Run: &domain.ImportRun{Kind: domain.ImportFolder}}, nil
}

type stubDirectory struct {
	tile    *domain.Tile
	blocked map[int64]bool
	user    string
	edits   []tiles.Edit
}

func (s *stubDirectory) List(_ context.Context) ([]domain.Tile, error) {
	if s.tile == nil {
		return nil, nil
	}
	return []domain.Tile{*s.tile}, nil
}

func (s *stubDirectory) FindBySKU(_ context.Context, skuCode string) (*domain.Tile, error) {
	if s.tile == nil || s.tile.SkuCode != skuCode {
		return nil, tiles.ErrNotFound
	}
	return s.tile, nil
}

func (s *stubDirectory) Images(t domain.Tile) tiles.Images {
	return tiles.Images{Big: "big/" + t.SkuCode + ".jpg"}
}

func (s *stubDirectory) VariantURL(variant string) string { return "thumb/" + variant + ".jpg" }

func (s *stubDirectory) SetBlocked(_ context.Context, userID string, tileID int64, block bool) error {
	if s.blocked == nil {
		s.blocked = map[int64]bool{}
	}
	s.user = userID
	s.blocked[tileID] = block
	return nil
}

func (s *stubDirectory) Edit(_ context.Context, e tiles.Edit) error {
	s.edits = append(s.edits, e)
	return nil
}

func (s *stubDirectory) Export(_ context.Context) (domain.Artifact, error) {
	return domain.Artifact{Key: "k", FileName: "TileList.xlsx"}, nil
}

type stubDiscoverer struct {
	variants []string
}

func (s *stubDiscoverer) Discover(ctx context.Context, _ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.variants, nil
}

type fixture struct {
	svc       *ConsoleService
	fetcher   *stubFetcher
	pipeline  *stubPipeline
	importer  *stubImporter
	directory *stubDirectory
	runs      *store.RunStore
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	f := &fixture{
		fetcher:   &stubFetcher{},
		pipeline:  &stubPipeline{},
		importer:  &stubImporter{},
		directory: &stubDirectory{},
		runs:      store.NewRunStore(database),
	}
	f.svc = NewConsoleService(
		refdata.NewLoader(f.fetcher),
		f.pipeline,
		f.importer,
		f.directory,
		&stubDiscoverer{variants: []string{"MG-100-f1", "MG-100-f2"}},
		f.runs,
		nil,
		opts,
		nil,
	)
	return f
}

func ptr[T any](v T) *T { return &v }

func completePatch() FormPatch {
	ids := map[domain.Attribute]string{}
	for _, a := range domain.Attributes {
		ids[a] = "1"
	}
	return FormPatch{SkuName: ptr("Marble Grey"), SkuCode: ptr("MG-100"), IDs: ids, FaceCount: ptr(2)}
}

func TestOpenFormLoadsReferenceData(t *testing.T) {
	f := newFixture(t, Options{})

	view, err := f.svc.OpenForm(context.Background())

	require.NoError(t, err)
	assert.NotEmpty(t, view.ID)
	require.NotNil(t, view.References)
	assert.Equal(t, "Color one", view.References.Colors[0].Name)
	assert.Equal(t, 1, view.FaceCount)
	assert.Equal(t, ingest.DefaultWidth, view.Width)
	assert.Equal(t, ingest.DefaultHeight, view.Height)
	assert.Equal(t, []int{1}, view.Missing)
}

func TestOpenFormReferenceFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.err = backend.ErrUnreachable

	_, err := f.svc.OpenForm(context.Background())

	assert.ErrorIs(t, err, backend.ErrUnreachable)
	assert.Zero(t, f.svc.forms.Len())
}

func TestUnknownForm(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.GetForm("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.SubmitForm(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.svc.CancelForm("nope"), ErrSessionNotFound)
}

func TestPatchFormRejectsInvalidPatchAsAWhole(t *testing.T) {
	f := newFixture(t, Options{})
	view, err := f.svc.OpenForm(context.Background())
	require.NoError(t, err)

	_, err = f.svc.PatchForm(view.ID, FormPatch{SkuName: ptr("Marble"), Width: ptr(0)})
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, err = f.svc.PatchForm(view.ID, FormPatch{FaceCount: ptr(0)})
	assert.ErrorIs(t, err, capture.ErrFaceCount)

	_, err = f.svc.PatchForm(view.ID, FormPatch{IDs: map[domain.Attribute]string{"Bogus": "1"}})
	assert.ErrorIs(t, err, ErrUnknownAttribute)

	got, err := f.svc.GetForm(view.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Draft.SkuName)
	assert.Equal(t, ingest.DefaultWidth, got.Width)
}

func TestFaceCountDropsCapturesAboveIt(t *testing.T) {
	f := newFixture(t, Options{})
	view, err := f.svc.OpenForm(context.Background())
	require.NoError(t, err)

	_, err = f.svc.PatchForm(view.ID, FormPatch{FaceCount: ptr(3)})
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err = f.svc.PutFace(view.ID, i, "", jpegBytes)
		require.NoError(t, err)
	}

	got, err := f.svc.PatchForm(view.ID, FormPatch{FaceCount: ptr(2)})
	require.NoError(t, err)
	assert.Len(t, got.Captures, 2)
	assert.Empty(t, got.Missing)

	_, err = f.svc.PutFace(view.ID, 3, "", jpegBytes)
	assert.ErrorIs(t, err, capture.ErrFaceIndex)
	_, err = f.svc.PutFace(view.ID, 1, "", []byte("text"))
	assert.ErrorIs(t, err, capture.ErrNotAnImage)
}

func TestValidateFormReportsEveryField(t *testing.T) {
	f := newFixture(t, Options{})
	view, err := f.svc.OpenForm(context.Background())
	require.NoError(t, err)

	errs, err := f.svc.ValidateForm(view.ID)

	require.NoError(t, err)
	assert.Len(t, errs, 9)
	assert.Equal(t, "Please upload 1 image(s) for the faces.", errs[draft.FieldImages])
}

func TestSubmitFormInvalidMakesNoRequest(t *testing.T) {
	f := newFixture(t, Options{})
	view, err := f.svc.OpenForm(context.Background())
	require.NoError(t, err)
	_, err = f.svc.PatchForm(view.ID, completePatch())
	require.NoError(t, err)
	_, err = f.svc.PutFace(view.ID, 1, "a.jpg", jpegBytes)
	require.NoError(t, err)

	res, err := f.svc.SubmitForm(context.Background(), view.ID)

	require.NoError(t, err)
	assert.Equal(t, "Please upload 2 image(s) for the faces.", res.Errors[draft.FieldImages])
	assert.Empty(t, f.pipeline.subs)
}

func TestSubmitFormSuccessClosesFormEvenWhenDegraded(t *testing.T) {
	f := newFixture(t, Options{RequestedBy: "admin"})
	view, err := f.svc.OpenForm(context.Background())
	require.NoError(t, err)
	_, err = f.svc.PatchForm(view.ID, completePatch())
	require.NoError(t, err)
	_, err = f.svc.PatchForm(view.ID, FormPatch{Width: ptr(1024), Height: ptr(768)})
	require.NoError(t, err)
	_, err = f.svc.PutFace(view.ID, 2, "b.jpg", jpegBytes)
	require.NoError(t, err)
	_, err = f.svc.PutFace(view.ID, 1, "a.jpg", jpegBytes)
	require.NoError(t, err)

	res, err := f.svc.SubmitForm(context.Background(), view.ID)

	require.NoError(t, err)
	assert.Equal(t, ListingPath, res.Redirect)
	assert.True(t, res.Outcome.Degraded())

	require.Len(t, f.pipeline.subs, 1)
	sub := f.pipeline.subs[0]
	assert.Equal(t, "MG-100", sub.Draft.SkuCode)
	assert.Equal(t, 1024, sub.Width)
	assert.Equal(t, 768, sub.Height)
	assert.Equal(t, "admin", sub.RequestedBy)
	require.Len(t, sub.Files, 2)
	assert.Equal(t, "a.jpg", sub.Files[0].FileName)
	assert.Equal(t, "b.jpg", sub.Files[1].FileName)
	require.NotNil(t, sub.Refs)

	_, err = f.svc.GetForm(view.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmitFormCreateFailureKeepsForm(t *testing.T) {
	f := newFixture(t, Options{})
	f.pipeline.err = &backend.APIError{Status: 200, Code: "alreadyexists", Message: "Tile already exists."}
	view, err := f.svc.OpenForm(context.Background())
	require.NoError(t, err)
	patch := completePatch()
	patch.FaceCount = ptr(1)
	_, err = f.svc.PatchForm(view.ID, patch)
	require.NoError(t, err)
	_, err = f.svc.PutFace(view.ID, 1, "a.jpg", jpegBytes)
	require.NoError(t, err)

	res, err := f.svc.SubmitForm(context.Background(), view.ID)

	var createErr *ingest.CreateError
	require.ErrorAs(t, err, &createErr)
	assert.True(t, ingest.IsAlreadyExists(err))
	assert.Empty(t, res.Redirect)
	assert.False(t, res.Outcome.Committed())

	got, err := f.svc.GetForm(view.ID)
	require.NoError(t, err)
	assert.Equal(t, "MG-100", got.Draft.SkuCode)
	assert.Len(t, got.Captures, 1)
	assert.False(t, got.Submitting)
}

func TestSubmitFormRejectsEditsWhileSubmitting(t *testing.T) {
	f := newFixture(t, Options{})
	f.pipeline.started = make(chan struct{})
	f.pipeline.release = make(chan struct{})
	view, err := f.svc.OpenForm(context.Background())
	require.NoError(t, err)
	patch := completePatch()
	patch.FaceCount = ptr(1)
	_, err = f.svc.PatchForm(view.ID, patch)
	require.NoError(t, err)
	_, err = f.svc.PutFace(view.ID, 1, "a.jpg", jpegBytes)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.SubmitForm(context.Background(), view.ID)
		done <- err
	}()
	<-f.pipeline.started

	_, err = f.svc.SubmitForm(context.Background(), view.ID)
	assert.ErrorIs(t, err, ErrSubmitting)
	_, err = f.svc.PatchForm(view.ID, FormPatch{SkuName: ptr("Other")})
	assert.ErrorIs(t, err, ErrSubmitting)

	close(f.pipeline.release)
	require.NoError(t, <-done)
	assert.Len(t, f.pipeline.subs, 1)
}

func TestCancelFormDisposesReferenceData(t *testing.T) {
	f := newFixture(t, Options{})
	view, err := f.svc.OpenForm(context.Background())
	require.NoError(t, err)
	fm, err := f.svc.form(view.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelForm(view.ID))

	_, err = fm.refs.Data()
	assert.ErrorIs(t, err, refdata.ErrDisposed)
	_, err = f.svc.GetForm(view.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFormsExpire(t *testing.T) {
	f := newFixture(t, Options{FormTTL: 20 * time.Millisecond})
	view, err := f.svc.OpenForm(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := f.svc.GetForm(view.ID)
		return errors.Is(err, ErrSessionNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestTileDetail(t *testing.T) {
	f := newFixture(t, Options{})
	f.directory.tile = &domain.Tile{ID: 3, SkuCode: "MG-100"}

	detail, err := f.svc.TileDetail(context.Background(), "MG-100")

	require.NoError(t, err)
	assert.Equal(t, "big/MG-100.jpg", detail.Images.Big)
	assert.Equal(t, []Variant{
		{Name: "MG-100-f1", URL: "thumb/MG-100-f1.jpg"},
		{Name: "MG-100-f2", URL: "thumb/MG-100-f2.jpg"},
	}, detail.Variants)

	_, err = f.svc.TileDetail(context.Background(), "MG-999")
	assert.ErrorIs(t, err, tiles.ErrNotFound)

	tile, images, err := f.svc.FindTile(context.Background(), "MG-100")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tile.ID)
	assert.Equal(t, "big/MG-100.jpg", images.Big)
	assert.Equal(t, "thumb/MG-100-f1.jpg", f.svc.VariantURL("MG-100-f1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.TileDetail(ctx, "MG-100")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetBlockedAndEditUseRequester(t *testing.T) {
	f := newFixture(t, Options{RequestedBy: "admin"})

	require.NoError(t, f.svc.SetBlocked(context.Background(), 3, true))
	assert.True(t, f.directory.blocked[3])
	assert.Equal(t, "admin", f.directory.user)

	require.NoError(t, f.svc.EditTile(context.Background(), tiles.Edit{TileID: 3}))
	require.Len(t, f.directory.edits, 1)
	assert.Equal(t, "admin", f.directory.edits[0].RequestedBy)
}

func TestImportsPassThrough(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.svc.ImportFolder(context.Background(), []backend.Upload{{FileName: "a.jpg"}, {FileName: "b.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, domain.ImportFolder, res.Run.Kind)
	assert.Len(t, f.importer.files, 2)
}

func TestRuns(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	empty, err := f.svc.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty.Ingests)
	assert.NotNil(t, empty.Imports)

	ingestRun := &domain.IngestRun{
		ID:        "ingest-1",
		SkuCode:   "MG-100",
		SkuName:   "Marble Grey",
		Committed: true,
		Stages:    []domain.StageResult{domain.Succeeded(domain.StageCreate, "ok")},
	}
	require.NoError(t, f.runs.CreateIngestRun(ctx, ingestRun))
	importRun := &domain.ImportRun{ID: "import-1", Kind: domain.ImportFolder, Batch: "tiles_1"}
	require.NoError(t, f.runs.CreateImportRun(ctx, importRun))

	history, err := f.svc.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, history.Ingests, 1)
	assert.Len(t, history.Imports, 1)

	bySku, err := f.svc.ListRuns(ctx, "MG-100", 10)
	require.NoError(t, err)
	assert.Len(t, bySku.Ingests, 1)
	assert.Empty(t, bySku.Imports)

	got, err := f.svc.GetRun(ctx, "import-1")
	require.NoError(t, err)
	assert.Equal(t, "tiles_1", got.(*domain.ImportRun).Batch)

	_, err = f.svc.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
