package web

import (
	"io"
	"net/http"
	"strconv"
)

const maxImportSize = 512 * 1024 * 1024 // 512 MB

func (s *Server) handleImportSpreadsheet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}
	files, err := s.readUploads(r, "file")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read file")
		s.logger.Error("read spreadsheet upload failed", "error", err)
		return
	}
	if len(files) != 1 {
		s.writeError(w, http.StatusBadRequest, "exactly one spreadsheet file required")
		return
	}

	res, err := s.service.ImportSpreadsheet(r.Context(), files[0])
	if err != nil {
		s.fail(w, "import spreadsheet", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImportFolder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}
	files, err := s.readUploads(r, "files")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read files")
		s.logger.Error("read folder upload failed", "error", err)
		return
	}

	res, err := s.service.ImportFolder(r.Context(), files)
	if err != nil {
		s.fail(w, "import folder", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExportTiles(w http.ResponseWriter, r *http.Request) {
	a, err := s.service.ExportTiles(r.Context())
	if err != nil {
		s.fail(w, "export tiles", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"artifact": a,
		"url":      "/downloads/" + a.Key,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	reader, a, err := s.service.OpenArtifact(r.Context(), key)
	if err != nil {
		s.fail(w, "download", err)
		return
	}
	defer closeWithLog(reader, "artifact reader", s.logger)

	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.FileName+`"`)
	if a.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	}
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write artifact failed", "key", key, "error", err)
	}
}
