package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/remedial/internal/marks"
	"github.com/pavelanni/remedial/internal/model"
)

type documentResponse struct {
	Filename string             `json:"filename"`
	MIME     string             `json:"mime"`
	Entries  []model.MarksEntry `json:"entries"`
}

func (h *Handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, marks.MaxDocumentSize+1<<20)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or malformed form")
		return
	}

	file, header, err := r.FormFile("docfile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	res, err := h.config.Extractor.Extract(r.Context(), file)
	if err != nil {
		if errors.Is(err, marks.ErrUnsupportedType) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		slog.Error("failed to extract marks", "filename", header.Filename, "error", err)
		writeError(w, http.StatusUnprocessableEntity, "failed to extract marks: "+err.Error())
		return
	}

	slog.Info("extracted marks from upload", "filename", header.Filename, "mime", res.MIME, "count", len(res.Entries))
	writeJSON(w, http.StatusOK, documentResponse{
		Filename: header.Filename,
		MIME:     res.MIME,
		Entries:  res.Entries,
	})
}
