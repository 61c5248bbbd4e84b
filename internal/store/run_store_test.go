package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/tileconsole/internal/db"
	"github.com/vbonduro/tileconsole/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })
	return d
}

func TestRunStoreIngestRoundTrip(t *testing.T) {
	runs := NewRunStore(openTestDB(t))
	ctx := context.Background()

	run := &domain.IngestRun{
		ID:          "run-1",
		SkuCode:     "MG-100",
		SkuName:     "Marble Grey",
		RequestedBy: "42",
		Committed:   true,
		Stages: []domain.StageResult{
			domain.Succeeded(domain.StageCreate, "Tile details added successfully"),
			domain.Succeeded(domain.StageResizeSingle, "2 image(s) resized"),
			domain.Failed(domain.StageResizeImage, "Failed to retrieve resized image or invalid response"),
			domain.Succeeded(domain.StageSingleProdFaces, "Face processing completed"),
		},
	}
	require.NoError(t, runs.CreateIngestRun(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())

	got, err := runs.GetIngestRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "MG-100", got.SkuCode)
	assert.True(t, got.Committed)
	assert.Equal(t, run.Stages, got.Stages)
	assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Second)
}

func TestRunStoreGetIngestRunNotFound(t *testing.T) {
	runs := NewRunStore(openTestDB(t))

	got, err := runs.GetIngestRun(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRunStoreListIngestRunsFiltersBySku(t *testing.T) {
	runs := NewRunStore(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, sku := range []string{"MG-100", "WT-200", "MG-100"} {
		require.NoError(t, runs.CreateIngestRun(ctx, &domain.IngestRun{
			ID:        sku + "-" + string(rune('a'+i)),
			SkuCode:   sku,
			SkuName:   sku,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Stages:    []domain.StageResult{domain.Failed(domain.StageCreate, "boom")},
		}))
	}

	all, err := runs.ListIngestRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mg, err := runs.ListIngestRuns(ctx, "MG-100", 10)
	require.NoError(t, err)
	require.Len(t, mg, 2)
	assert.Equal(t, "MG-100-c", mg[0].ID)
	assert.Len(t, mg[0].Stages, 1)
}

func TestRunStoreImportRoundTrip(t *testing.T) {
	runs := NewRunStore(openTestDB(t))
	ctx := context.Background()

	run := &domain.ImportRun{
		ID:        "imp-1",
		Kind:      domain.ImportFolder,
		Batch:     "tiles_20260102030405123",
		Succeeded: 1,
		Failed:    1,
		Files: []domain.ResizedImage{
			{FileName: "a.jpg", BigURL: "big/a.jpg", ThumbURL: "thumb/a.jpg"},
			{FileName: "b.jpg", Error: "corrupt"},
		},
		Stages: []domain.StageResult{
			domain.Failed(domain.StageResizeFolder, "1 of 2 file(s) failed"),
			domain.Succeeded(domain.StageFolderFaces, "Faces processed"),
		},
	}
	require.NoError(t, runs.CreateImportRun(ctx, run))

	got, err := runs.GetImportRun(ctx, "imp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.ImportFolder, got.Kind)
	assert.Equal(t, run.Files, got.Files)
	assert.Equal(t, run.Stages, got.Stages)

	list, err := runs.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "tiles_20260102030405123", list[0].Batch)
	assert.Nil(t, list[0].Files)
}
