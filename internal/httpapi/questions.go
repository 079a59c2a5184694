package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/p-n-ai/pai-papers/internal/curriculum"
	"github.com/p-n-ai/pai-papers/internal/ingest"
	"github.com/p-n-ai/pai-papers/internal/practice"
)

const maxJSONBody = 1 << 20

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pagination(q.Get("page"), q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := ingest.QuestionFilter{
		Level:      curriculum.Level(q.Get("level")),
		LessonID:   q.Get("lessonId"),
		Topic:      q.Get("topic"),
		BatchID:    q.Get("batchId"),
		Pagination: page,
	}
	if v := q.Get("verified"); v != "" {
		verified, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, validationError("verified", "must be true or false"))
			return
		}
		f.Verified = &verified
	}

	questions, total, err := s.svc.Questions(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page = page.Normalize()
	writeJSON(w, http.StatusOK, listResponse[ingest.Question]{Items: questions, Total: total, Page: page.Page, Limit: page.Limit})
}

func (s *Server) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.GetQuestion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var patch ingest.QuestionPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q, err := s.svc.UpdateQuestion(r.Context(), mux.Vars(r)["id"], patch, Actor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteQuestion(r.Context(), mux.Vars(r)["id"], Actor(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type variantsRequest struct {
	Count int `json:"count"`
}

type variantsResponse struct {
	QuestionID string             `json:"questionId"`
	Variants   []practice.Variant `json:"variants"`
}

func (s *Server) handleVariants(w http.ResponseWriter, r *http.Request) {
	if s.practice == nil {
		writeMessage(w, http.StatusNotImplemented, "practice generation is not configured")
		return
	}

	var req variantsRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	q, err := s.svc.GetQuestion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	variants, err := s.practice.Variants(r.Context(), q, req.Count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, variantsResponse{QuestionID: q.ID, Variants: variants})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
