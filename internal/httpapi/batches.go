package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/p-n-ai/pai-papers/internal/curriculum"
	"github.com/p-n-ai/pai-papers/internal/ingest"
)

type uploadResponse struct {
	BatchID string        `json:"batchId"`
	Status  ingest.Status `json:"status"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload))
			return
		}
		writeMessage(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	questionDoc, err := formFile(r.MultipartForm, "questionPdf")
	if err != nil {
		writeError(w, r, err)
		return
	}
	markschemeDoc, err := formFile(r.MultipartForm, "markschemePdf")
	if err != nil {
		writeError(w, r, err)
		return
	}

	b, err := s.svc.Upload(r.Context(), ingest.UploadRequest{
		PaperCode:     r.FormValue("paperCode"),
		Year:          r.FormValue("year"),
		Session:       r.FormValue("session"),
		PaperNumber:   r.FormValue("paperNumber"),
		SubjectLevel:  r.FormValue("subjectLevel"),
		QuestionDoc:   questionDoc,
		MarkschemeDoc: markschemeDoc,
		UploadedBy:    Actor(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{BatchID: b.ID, Status: b.Status})
}

// formFile reads the named file part. A missing part yields nil so the
// service reports it alongside any other invalid fields.
func formFile(form *multipart.Form, name string) ([]byte, error) {
	files := form.File[name]
	if len(files) == 0 {
		return nil, nil
	}
	f, err := files[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pagination(q.Get("page"), q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := ingest.BatchFilter{
		Level:      curriculum.Level(q.Get("level")),
		Status:     ingest.Status(q.Get("status")),
		Pagination: page,
	}

	batches, total, err := s.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page = page.Normalize()
	writeJSON(w, http.StatusOK, listResponse[ingest.Batch]{Items: batches, Total: total, Page: page.Page, Limit: page.Limit})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), mux.Vars(r)["id"], Actor(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Reprocess(r.Context(), mux.Vars(r)["id"], Actor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{BatchID: b.ID, Status: b.Status})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, err := s.svc.ExportBatch(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="batch-%s.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func pagination(page, limit string) (ingest.Pagination, error) {
	v := &ingest.ValidationError{}
	var p ingest.Pagination
	if page = strings.TrimSpace(page); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			v.Add("page", "must be a positive integer")
		}
		p.Page = n
	}
	if limit = strings.TrimSpace(limit); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			v.Add("limit", "must be a positive integer")
		}
		p.Limit = n
	}
	return p, v.Err()
}
