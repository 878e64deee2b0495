package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/storefront-studio/internal/preview"
	"github.com/tjfontaine/storefront-studio/internal/session"
	"github.com/tjfontaine/storefront-studio/internal/storage"
	"github.com/tjfontaine/storefront-studio/internal/storefront"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

const maxBodyBytes = 1 << 20

// HandlerOptions configures a Handler. Only Sessions is required.
type HandlerOptions struct {
	Sessions *session.Manager

	// Records lists stored sessions, including ended ones.
	Records storage.SessionStore
	// Templates returns the confirmed draft template of a session.
	Templates storage.TemplateStore
	// Transcripts returns recorded transcripts.
	Transcripts storage.TranscriptStore
	// Preview streams live configuration changes.
	Preview *preview.Hub

	Logger *slog.Logger
}

// Handler serves the session API.
type Handler struct {
	opts   HandlerOptions
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{opts: opts, logger: logger}
}

// Routes registers every session route except the preview stream on r, which
// is mounted at /v1/sessions.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.CreateSession)
	r.Get("/", h.ListSessions)
	r.Get("/{id}", h.GetSession)
	r.Delete("/{id}", h.EndSession)
	r.Post("/{id}/messages", h.SendMessage)
	r.Post("/{id}/confirm", h.Confirm)
	r.Post("/{id}/cancel", h.Cancel)
	r.Delete("/{id}/pending/{field}", h.RemoveField)
	r.Get("/{id}/template", h.GetTemplate)
	r.Get("/{id}/transcript", h.GetTranscript)
}

type createSessionRequest struct {
	ShopID string `json:"shop_id"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type listSessionsResponse struct {
	Sessions []*storage.SessionRecord `json:"sessions"`
}

type templateResponse struct {
	SessionID string                   `json:"session_id"`
	Template  storefront.Configuration `json:"template"`
}

type transcriptResponse struct {
	SessionID string             `json:"session_id"`
	Entries   []transcript.Entry `json:"entries"`
}

// CreateSession starts a session. An optional shop_id resumes an existing shop.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErrorBody(w, http.StatusBadRequest, errTypeInvalidRequest, err.Error())
		return
	}

	s, err := h.opts.Sessions.Create(r.Context(), req.ShopID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "session_id", s.ID())
	writeJSON(w, http.StatusCreated, s.State())
}

// ListSessions lists stored session records, filtered by ?status= and
// bounded by ?limit=. Without a session store only open sessions are listed.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.opts.Records == nil {
		var out []*storage.SessionRecord
		for _, id := range h.opts.Sessions.List() {
			s, err := h.opts.Sessions.Get(id)
			if err != nil {
				continue
			}
			st := s.State()
			out = append(out, &storage.SessionRecord{ID: st.ID, ShopID: st.ShopID, Status: storage.StatusActive})
		}
		writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: nonNil(out)})
		return
	}

	opts := storage.ListOptions{Status: r.URL.Query().Get("status")}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeErrorBody(w, http.StatusBadRequest, errTypeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}

	records, err := h.opts.Records.ListSessions(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: nonNil(records)})
}

// GetSession returns the session state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

// EndSession tears the session down and closes its preview streams.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	AddLogField(r.Context(), "session_id", id)

	if err := h.opts.Sessions.End(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if h.opts.Preview != nil {
		h.opts.Preview.CloseSession(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage runs one exchange with the assistant.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeErrorBody(w, http.StatusBadRequest, errTypeInvalidRequest, err.Error())
		return
	}

	res, err := s.Send(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.ExchangeFailed {
		AddLogField(r.Context(), "exchange", "failed")
	}
	writeJSON(w, http.StatusOK, res)
}

// Confirm persists the pending patch and returns the resulting state.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Confirm(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

// Cancel reverts the pending patch and returns the resulting state.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Cancel(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

// RemoveField drops one field from the pending patch.
func (h *Handler) RemoveField(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	field := chi.URLParam(r, "field")
	if err := s.RemoveField(r.Context(), field); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

// GetTemplate returns the confirmed draft template from storage. It is
// readable after the session has ended.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.opts.Templates == nil {
		writeErrorBody(w, http.StatusNotFound, errTypeNotFound, "template storage is not configured")
		return
	}
	cfg, err := h.opts.Templates.GetTemplate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, templateResponse{SessionID: id, Template: cfg})
}

// GetTranscript returns the recorded transcript.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.opts.Transcripts == nil {
		writeErrorBody(w, http.StatusNotFound, errTypeNotFound, "transcript recording is disabled")
		return
	}
	entries, err := h.opts.Transcripts.ListEntries(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{SessionID: id, Entries: entries})
}

// StreamPreview upgrades to a websocket that receives the current
// configuration followed by every change.
func (h *Handler) StreamPreview(w http.ResponseWriter, r *http.Request) {
	if h.opts.Preview == nil {
		writeErrorBody(w, http.StatusNotFound, errTypeNotFound, "preview streaming is disabled")
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	st := s.State()
	h.opts.Preview.ServeWS(w, r, st.ID, preview.Event{
		SessionID: st.ID,
		Kind:      preview.KindSnapshot,
		Live:      st.Live,
		Pending:   st.Pending,
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	AddLogField(r.Context(), "session_id", id)

	s, err := h.opts.Sessions.Get(id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return s, true
}

// decodeBody decodes a JSON request body into v. An empty body is accepted
// when optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func nonNil(records []*storage.SessionRecord) []*storage.SessionRecord {
	if records == nil {
		return []*storage.SessionRecord{}
	}
	return records
}
