package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vbonduro/tileconsole/internal/domain"
	"github.com/vbonduro/tileconsole/internal/tiles"
)

func (s *Server) handleListTiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListTiles(r.Context())
	if err != nil {
		s.fail(w, "list tiles", err)
		return
	}
	if list == nil {
		list = []domain.Tile{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleTileDetail probes variants with the request context, so a client
// that goes away stops the probe.
func (s *Server) handleTileDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.TileDetail(r.Context(), r.PathValue("sku"))
	if err != nil {
		s.fail(w, "tile detail", err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

type editTileRequest struct {
	SkuName string                      `json:"sku_name"`
	SkuCode string                      `json:"sku_code"`
	Names   map[domain.Attribute]string `json:"names"`
}

func (s *Server) handleEditTile(w http.ResponseWriter, r *http.Request) {
	tileID, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid tile id")
		return
	}
	var req editTileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid tile edit")
		return
	}
	err = s.service.EditTile(r.Context(), tiles.Edit{
		TileID:  tileID,
		SkuName: req.SkuName,
		SkuCode: req.SkuCode,
		Names:   req.Names,
	})
	if err != nil {
		s.fail(w, "edit tile", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Updated successfully!"})
}

func (s *Server) handleBlockTile(w http.ResponseWriter, r *http.Request) {
	tileID, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid tile id")
		return
	}
	var req struct {
		Blocked bool `json:"blocked"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid block request")
		return
	}
	if err := s.service.SetBlocked(r.Context(), tileID, req.Blocked); err != nil {
		s.fail(w, "block tile", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tile_id": tileID, "blocked": req.Blocked})
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
