package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/ingest"
	"github.com/vbonduro/tileconsole/internal/service"
)

const (
	maxImageSize  = 50 * 1024 * 1024 // 50 MB
	maxPatchBytes = 64 * 1024
)

func (s *Server) handleOpenForm(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.OpenForm(r.Context())
	if err != nil {
		s.fail(w, "open form", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetForm(r.PathValue("id"))
	if err != nil {
		s.fail(w, "get form", err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePatchForm(w http.ResponseWriter, r *http.Request) {
	var patch service.FormPatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid form patch")
		return
	}
	view, err := s.service.PatchForm(r.PathValue("id"), patch)
	if err != nil {
		s.fail(w, "patch form", err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePutFace(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid face index")
		return
	}
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer closeWithLog(file, "face upload", s.logger)

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read file")
		s.logger.Error("read face upload failed", "form_id", r.PathValue("id"), "error", err)
		return
	}

	c, err := s.service.PutFace(r.PathValue("id"), index, header.Filename, data)
	if err != nil {
		s.fail(w, "capture face", err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRemoveFace(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid face index")
		return
	}
	if err := s.service.RemoveFace(r.PathValue("id"), index); err != nil {
		s.fail(w, "remove face", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateForm(w http.ResponseWriter, r *http.Request) {
	errs, err := s.service.ValidateForm(r.PathValue("id"))
	if err != nil {
		s.fail(w, "validate form", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"valid": errs.OK(), "errors": errs})
}

func (s *Server) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.SubmitForm(r.Context(), r.PathValue("id"))

	var createErr *ingest.CreateError
	switch {
	case errors.As(err, &createErr):
		status := http.StatusBadGateway
		code := ""
		if ingest.IsAlreadyExists(err) {
			status = http.StatusConflict
			code = "alreadyexists"
		}
		s.writeJSON(w, status, errorBody{Error: createErr.Message, Code: code, Detail: res.Outcome})
		return
	case err != nil:
		s.fail(w, "submit form", err)
		return
	case !res.Errors.OK():
		s.writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:  "Please correct the highlighted fields.",
			Fields: res.Errors,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelForm(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelForm(r.PathValue("id")); err != nil {
		s.fail(w, "cancel form", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readUploads collects the files of a multipart field as backend uploads.
func (s *Server) readUploads(r *http.Request, field string) ([]backend.Upload, error) {
	var uploads []backend.Upload
	for _, fh := range r.MultipartForm.File[field] {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		closeWithLog(f, field+" upload", s.logger)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, backend.Upload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return uploads, nil
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
