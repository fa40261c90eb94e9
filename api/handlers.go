package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/cfg"
	"github.com/edgepub/edgepub/gateway"
	"github.com/edgepub/edgepub/publish"
	"github.com/edgepub/edgepub/task"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 64 << 20

// Handlers serves the publish API
type Handlers struct {
	svc *gateway.Service
}

type publishResponse struct {
	ID      string            `json:"id"`
	Env     string            `json:"env"`
	State   publish.State     `json:"state"`
	Updated time.Time         `json:"updated"`
	Links   map[string]string `json:"links"`
	Items   []publish.Item    `json:"items,omitempty"`
}

func newPublishResponse(p *publish.Publish) publishResponse {
	return publishResponse{
		ID:      p.ID,
		Env:     p.Env,
		State:   p.State,
		Updated: p.Updated,
		Links:   p.Links(),
		Items:   p.Items,
	}
}

type taskResponse struct {
	ID        string            `json:"id"`
	PublishID *string           `json:"publish_id"`
	State     task.State        `json:"state"`
	Updated   time.Time         `json:"updated"`
	Deadline  *time.Time        `json:"deadline"`
	Links     map[string]string `json:"links"`
}

func newTaskResponse(t *task.Task) taskResponse {
	resp := taskResponse{
		ID:       t.ID,
		State:    t.State,
		Updated:  t.Updated,
		Deadline: t.Deadline,
		Links:    t.Links(),
	}
	if t.PublishID != "" {
		resp.PublishID = &t.PublishID
	}
	return resp
}

func (h *Handlers) healthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"detail": "edgepub is running"})
}

func (h *Handlers) createPublish(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.CreatePublish(r.Context(), chi.URLParam(r, "env"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPublishResponse(p))
}

func (h *Handlers) getPublish(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPublish(r.Context(), chi.URLParam(r, "env"), chi.URLParam(r, "publishID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPublishResponse(p))
}

func (h *Handlers) updateItems(w http.ResponseWriter, r *http.Request) {
	items, err := decodeItems(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.svc.UpdateItems(r.Context(), chi.URLParam(r, "env"), chi.URLParam(r, "publishID"), items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handlers) commit(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Commit(r.Context(),
		chi.URLParam(r, "env"),
		chi.URLParam(r, "publishID"),
		r.URL.Query().Get("deadline"))
	if err != nil {
		// A bad deadline is reported as a single message, not a list
		var verr *publish.ValidationError
		if errors.As(err, &verr) && len(verr.Messages) == 1 {
			writeDetail(w, http.StatusBadRequest, verr.Messages[0])
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(t))
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(t))
}

func (h *Handlers) deployConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
		return
	}

	t, err := h.svc.DeployConfig(r.Context(), chi.URLParam(r, "env"), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(t))
}

func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.GetConfig(r.Context(), chi.URLParam(r, "env"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

// decodeItems accepts either a single item object or an array of items
func decodeItems(body io.Reader) ([]publish.Item, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var item publish.Item
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, fmt.Errorf("invalid item: %w", err)
		}
		return []publish.Item{item}, nil
	}

	var items []publish.Item
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("invalid items: %w", err)
	}
	return items, nil
}

// writeError maps domain errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	var (
		conflict   *publish.StateConflictError
		invalid    *publish.ValidationError
		unresolved *publish.UnresolvedLinkError
	)

	switch {
	case errors.Is(err, publish.ErrNotFound), errors.Is(err, cfg.ErrUnknownEnvironment):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		writeDetail(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &invalid):
		writeDetail(w, http.StatusBadRequest, invalid.Messages)
	case errors.As(err, &unresolved):
		writeDetail(w, http.StatusBadRequest, unresolved.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

// writeDetail writes {"detail": detail}
func writeDetail(w http.ResponseWriter, status int, detail interface{}) {
	writeJSON(w, status, map[string]interface{}{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
