package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/tileconsole/internal/domain"
)

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return NewClient(Options{BaseURL: server.URL})
}

func faces() []Upload {
	return []Upload{
		{FileName: "f1.png", ContentType: "image/png", Data: pngBytes},
		{FileName: "f2.png", ContentType: "image/png", Data: pngBytes},
	}
}

func TestAddTileSendsResolvedNames(t *testing.T) {
	var got map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/AddTile", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		got = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			got[k] = v[0]
		}
		_, _ = io.WriteString(w, "success")
	})

	err := client.AddTile(context.Background(), AddTileRequest{
		SkuName:     "Marble Grey",
		SkuCode:     "MG-100",
		IDs:         map[domain.Attribute]string{domain.AttrCategory: "1", domain.AttrColor: "7"},
		Names:       map[domain.Attribute]string{domain.AttrCategory: "Floor", domain.AttrColor: "Grey"},
		RequestedBy: "42",
	})

	require.NoError(t, err)
	assert.Equal(t, "Marble Grey", got["SkuName"])
	assert.Equal(t, "MG-100", got["SkuCode"])
	assert.Equal(t, "1", got["CatId"])
	assert.Equal(t, "Floor", got["CatName"])
	assert.Equal(t, "Grey", got["ColorName"])
	assert.Equal(t, "42", got["RequestBy"])
	assert.Contains(t, got, "FinishName")
}

func TestAddTileReplies(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
		exists  bool
		message string
	}{
		{name: "raw token", status: 200, body: "success"},
		{name: "quoted token", status: 200, body: `"success"`},
		{name: "token with newline", status: 200, body: "success\n"},
		{name: "human readable", status: 200, body: "Tile added successfully", wantErr: true, message: "Tile added successfully"},
		{name: "already exists", status: 200, body: "alreadyexists", wantErr: true, exists: true},
		{name: "envelope ok", status: 200, body: `{"ok":true}`},
		{name: "envelope conflict", status: 200, body: `{"ok":false,"code":"alreadyexists","message":"SKU taken"}`, wantErr: true, exists: true, message: "SKU taken"},
		{name: "server error", status: 500, body: `{"message":"db down"}`, wantErr: true, message: "db down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			err := client.AddTile(context.Background(), AddTileRequest{SkuName: "x", SkuCode: "x"})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.exists, errors.Is(err, ErrAlreadyExists))
			if tt.message != "" {
				assert.Equal(t, tt.message, Describe(err))
			}
		})
	}
}

func TestAddTileUnreachable(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://127.0.0.1:1"})
	err := client.AddTile(context.Background(), AddTileRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, "Network error. Please check your internet connection.", Describe(err))
}

func TestListTilesShapes(t *testing.T) {
	tile := `{"tile_id":3,"sku_name":"Marble Grey","sku_code":"MG-100","block":"1"}`
	bodies := map[string]string{
		"array":      "[" + tile + "]",
		"tiles":      `{"tiles":[` + tile + `]}`,
		"data tiles": `{"data":{"tiles":[` + tile + `]}}`,
		"data array": `{"data":[` + tile + `]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/GetTileList", r.URL.Path)
				_, _ = io.WriteString(w, body)
			})
			tiles, err := client.ListTiles(context.Background())
			require.NoError(t, err)
			require.Len(t, tiles, 1)
			assert.Equal(t, int64(3), tiles[0].ID)
			assert.Equal(t, "MG-100", tiles[0].SkuCode)
			assert.True(t, bool(tiles[0].Blocked))
		})
	}
}

func TestListTilesUnexpectedShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"rows":[]}`)
	})
	_, err := client.ListTiles(context.Background())
	assert.Error(t, err)
}

func TestResizeSingle(t *testing.T) {
	t.Run("per-file results", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "Marble Grey", r.FormValue("product_name"))
			assert.Len(t, r.MultipartForm.File["files"], 2)
			_, _ = io.WriteString(w, `[{"FileName":"f1.png","BigUrl":"b1","ThumbUrl":"t1"},{"FileName":"f2.png","BigUrl":"b2","ThumbUrl":"t2"}]`)
		})
		reply, err := client.ResizeSingle(context.Background(), "Marble Grey", faces())
		require.NoError(t, err)
		require.Len(t, reply.Images, 2)
		assert.Equal(t, "t2", reply.Images[1].ThumbURL)
	})

	t.Run("generic success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"success":true}`)
		})
		reply, err := client.ResizeSingle(context.Background(), "x", faces())
		require.NoError(t, err)
		assert.Nil(t, reply.Images)
	})

	failures := map[string]string{
		"empty":         "",
		"false":         "false",
		"error object":  `{"error":"disk full"}`,
		"file in error": `[{"FileName":"f1.png","BigUrl":"b"},{"error":"bad image","FileName":"f2.png"}]`,
	}
	for name, body := range failures {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			_, err := client.ResizeSingle(context.Background(), "x", faces())
			assert.Error(t, err)
		})
	}
}

func TestResizeImage(t *testing.T) {
	t.Run("binary reply", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "800", r.FormValue("width"))
			assert.Equal(t, "600", r.FormValue("height"))
			assert.Len(t, r.MultipartForm.File["images"], 2)
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		})
		payload, err := client.ResizeImage(context.Background(), 800, 600, "Marble Grey", faces())
		require.NoError(t, err)
		assert.Equal(t, "image/png", payload.ContentType)
		assert.Equal(t, pngBytes, payload.Data)
	})

	t.Run("json reply", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"queued"}`)
		})
		_, err := client.ResizeImage(context.Background(), 800, 600, "x", faces())
		assert.Error(t, err)
	})

	t.Run("non-200", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write(pngBytes)
		})
		_, err := client.ResizeImage(context.Background(), 800, 600, "x", faces())
		assert.Error(t, err)
	})
}

func TestSingleProductFaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Marble Grey", r.FormValue("name"))
		_, _ = io.WriteString(w, `{"message":"done"}`)
	})
	assert.NoError(t, client.SingleProductFaces(context.Background(), 800, 600, "Marble Grey", faces()))

	failing := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"no faces detected"}`)
	})
	err := failing.SingleProductFaces(context.Background(), 800, 600, "x", faces())
	require.Error(t, err)
	assert.Equal(t, "no faces detected", Describe(err))
}

func TestResizeFolderReportsEveryFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "tiles_1", r.FormValue("folderName"))
		_, _ = io.WriteString(w, `[{"FileName":"a.png","BigUrl":"b","ThumbUrl":"t"},{"FileName":"b.png","error":"corrupt"}]`)
	})
	images, err := client.ResizeFolder(context.Background(), "tiles_1", faces())
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Empty(t, images[0].Error)
	assert.Equal(t, "corrupt", images[1].Error)
}

func TestProcessFolderFacesSendsPlaceholder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process-folder-faces-with-bluepatch", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "tiles_1", r.FormValue("folderName"))
		files := r.MultipartForm.File["excelFile"]
		require.Len(t, files, 1)
		assert.Equal(t, "SizeListFormat.xlsx", files[0].Filename)
		assert.Zero(t, files[0].Size)
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, client.ProcessFolderFaces(context.Background(), "tiles_1"))
}

func TestImageBaseURL(t *testing.T) {
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer images.Close()
	client := NewClient(Options{BaseURL: "http://127.0.0.1:1", ImageBaseURL: images.URL})

	assert.NoError(t, client.SingleProductFaces(context.Background(), 1, 1, "x", faces()))
}

func TestBlockTile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/BlockTile/42/7/1", r.URL.Path)
		_, _ = io.WriteString(w, "success")
	})
	assert.NoError(t, client.BlockTile(context.Background(), "42", 7, true))

	failing := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "fail")
	})
	assert.Error(t, failing.BlockTile(context.Background(), "42", 7, false))
}

func TestImportSpreadsheet(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "tiles.xlsx", hdr.Filename)
		_, _ = io.WriteString(w, `{"message":"Imported 12 tiles"}`)
	})
	reply, err := client.ImportSpreadsheet(context.Background(), Upload{FileName: "tiles.xlsx", Data: []byte("PK")})
	require.NoError(t, err)
	assert.Equal(t, "Imported 12 tiles", reply.Message)
	assert.Nil(t, reply.Envelope)
}

func TestLookup(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/GetCategoryList":
			_, _ = io.WriteString(w, `[{"cat_id":1,"cat_name":"Floor"},{"cat_id":"2","cat_name":" Wall "}]`)
		default:
			_, _ = io.WriteString(w, `null`)
		}
	})

	cats, err := client.Lookup(context.Background(), LookupLists[0])
	require.NoError(t, err)
	assert.Equal(t, []domain.LookupItem{{ID: "1", Name: "Floor"}, {ID: "2", Name: "Wall"}}, cats)

	colors, err := client.Lookup(context.Background(), LookupLists[5])
	require.NoError(t, err)
	assert.Empty(t, colors)
}
