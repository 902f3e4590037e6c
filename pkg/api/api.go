// Package api exposes the query and mutation resolvers over JSON HTTP.
// The handlers are thin: they call the store and, for mutations, publish
// exactly one event to the bus after the write succeeds. Nothing is
// published on failure.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/chattyapp/chatty-server/pkg/bus"
	"github.com/chattyapp/chatty-server/pkg/schema"
	"github.com/chattyapp/chatty-server/pkg/store"
)

// Server holds the resolver dependencies.
type Server struct {
	store *store.Store
	pub   bus.Publisher
	log   zerolog.Logger
}

// New creates the resolver server.
func New(st *store.Store, pub bus.Publisher, log zerolog.Logger) *Server {
	return &Server{store: st, pub: pub, log: log.With().Str("component", "api").Logger()}
}

// Routes registers the resolver endpoints on a fresh mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/messages", s.createMessage)
	mux.HandleFunc("POST /api/groups", s.createGroup)
	mux.HandleFunc("GET /api/groups/{id}", s.group)
	mux.HandleFunc("GET /api/messages", s.messages)
	mux.HandleFunc("GET /api/users", s.user)
	return mux
}

type createMessageRequest struct {
	UserID  int64  `json:"userId"`
	GroupID int64  `json:"groupId"`
	Text    string `json:"text"`
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	msg, err := s.store.CreateMessage(r.Context(), req.UserID, req.GroupID, req.Text)
	if err != nil {
		s.log.Warn().Err(err).Msg("createMessage failed")
		s.writeError(w, http.StatusUnprocessableEntity, "could not create message")
		return
	}
	// the write is committed; broadcast before replying so the event is
	// never lost to a response write failure
	s.pub.Publish(schema.TopicMessageAdded, msg)
	s.writeJSON(w, http.StatusCreated, msg)
}

type createGroupRequest struct {
	Name    string  `json:"name"`
	UserID  int64   `json:"userId"`
	UserIDs []int64 `json:"userIds"`
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	group, err := s.store.CreateGroup(r.Context(), req.Name, req.UserID, req.UserIDs)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.log.Warn().Err(err).Msg("createGroup failed")
		s.writeError(w, http.StatusUnprocessableEntity, "could not create group")
		return
	}
	s.pub.Publish(schema.TopicGroupAdded, group)
	s.writeJSON(w, http.StatusCreated, group)
}

func (s *Server) group(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	group, err := s.store.GroupByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not load group")
		return
	}
	s.writeJSON(w, http.StatusOK, group)
}

func (s *Server) messages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if raw := q.Get("groupId"); raw != "" {
		groupID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid groupId")
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		msgs, err := s.store.MessagesForGroup(r.Context(), groupID, limit, offset)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "could not load messages")
			return
		}
		s.writeJSON(w, http.StatusOK, msgs)
		return
	}
	if raw := q.Get("userId"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid userId")
			return
		}
		msgs, err := s.store.MessagesForUser(r.Context(), userID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "could not load messages")
			return
		}
		s.writeJSON(w, http.StatusOK, msgs)
		return
	}
	s.writeError(w, http.StatusBadRequest, "groupId or userId is required")
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		u   *schema.User
		err error
	)
	switch {
	case q.Get("id") != "":
		var id int64
		id, err = strconv.ParseInt(q.Get("id"), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid id")
			return
		}
		u, err = s.store.UserByID(r.Context(), id)
	case q.Get("email") != "":
		u, err = s.store.UserByEmail(r.Context(), q.Get("email"))
	default:
		s.writeError(w, http.StatusBadRequest, "id or email is required")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not load user")
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("response write failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
