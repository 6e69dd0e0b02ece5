package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
	"github.com/go-go-golems/chat-archive/pkg/persistence/chatstore"
)

const (
	DefaultWindowSide = 10
	MaxSearchLimit    = 500
	MaxPageLimit      = 500
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Messages int    `json:"messages"`
}

func (s *Server) handleSearch(w http.ResponseWriter, req *http.Request) {
	if !requireGet(w, req) {
		return
	}
	limit, err := intParam(req, "limit", chatstore.DefaultSearchLimit, 1, MaxSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ms, err := s.store.Search(req.Context(), req.URL.Query().Get("q"), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ms))
}

func (s *Server) handleWindow(w http.ResponseWriter, req *http.Request) {
	if !requireGet(w, req) {
		return
	}
	id := strings.TrimSpace(req.PathValue("id"))
	before, err := intParam(req, "before", DefaultWindowSide, 0, MaxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	after, err := intParam(req, "after", DefaultWindowSide, 0, MaxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	win, err := s.store.Window(req.Context(), id, before, after)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	win.BeforeMessages = nonNil(win.BeforeMessages)
	win.AfterMessages = nonNil(win.AfterMessages)
	writeJSON(w, http.StatusOK, win)
}

func (s *Server) handleBefore(w http.ResponseWriter, req *http.Request) {
	s.handlePage(w, req, s.store.Before)
}

func (s *Server) handleAfter(w http.ResponseWriter, req *http.Request) {
	s.handlePage(w, req, s.store.After)
}

type pageFunc func(ctx context.Context, id string, limit int) ([]chatlog.Message, error)

func (s *Server) handlePage(w http.ResponseWriter, req *http.Request, page pageFunc) {
	if !requireGet(w, req) {
		return
	}
	limit, err := intParam(req, "limit", chatstore.DefaultPageLimit, 1, MaxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ms, err := page(req.Context(), strings.TrimSpace(req.PathValue("id")), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ms))
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	if !requireGet(w, req) {
		return
	}
	n, err := s.store.Count(req.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Messages: n})
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Debug().Err(err).Msg("ws upgrade failed")
		return
	}
	s.hub.Add(conn)
	defer s.hub.Remove(conn)
	// The feed is server to client only; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func requireGet(w http.ResponseWriter, req *http.Request) bool {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// intParam reads a query integer, falling back to def when absent and
// clamping values above max.
func intParam(req *http.Request, key string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(req.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return 0, errors.Errorf("invalid %s %q", key, raw)
	}
	if n > max {
		n = max
	}
	return n, nil
}

func nonNil(ms []chatlog.Message) []chatlog.Message {
	if ms == nil {
		return []chatlog.Message{}
	}
	return ms
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatlog.ErrNotFound):
		writeError(w, http.StatusNotFound, chatlog.ErrNotFound.Error())
	case errors.Is(err, chatlog.ErrEmptyID):
		writeError(w, http.StatusBadRequest, chatlog.ErrEmptyID.Error())
	default:
		log.Error().Err(err).Str("component", "api").Msg("store failure")
		writeError(w, http.StatusInternalServerError, "store unavailable")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status > 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
