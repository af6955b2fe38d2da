package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/pipeline"
	"github.com/cchalm/applybot/internal/project"
	"github.com/cchalm/applybot/internal/session"
	"github.com/cchalm/applybot/internal/workspace"
)

// Seeder fills a new session's file index with the files that already exist
type Seeder func(ctx context.Context, index *project.FileIndex) error

type SessionHandler struct {
	registry *session.Registry
	// store is optional. Without it sessions live only as long as the process.
	store   session.Store
	applier *pipeline.Applier
	// sandbox is nil when responses can only be previewed
	sandbox workspace.Sandbox
	seed    Seeder
	logger  *zap.Logger
}

func NewSessionHandler(
	registry *session.Registry,
	store session.Store,
	applier *pipeline.Applier,
	sandbox workspace.Sandbox,
	seed Seeder,
	logger *zap.Logger,
) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		registry: registry,
		store:    store,
		applier:  applier,
		sandbox:  sandbox,
		seed:     seed,
		logger:   logger,
	}
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type addMessageRequest struct {
	Role    session.Role `json:"role"`
	Content string       `json:"content"`
}

type applyRequest struct {
	Response string   `json:"response"`
	IsEdit   bool     `json:"isEdit"`
	Packages []string `json:"packages"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Sandbox  bool   `json:"sandbox"`
}

// Health handles GET /health
func (h *SessionHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: len(h.registry.IDs()),
		Sandbox:  h.sandbox != nil,
	})
}

// Create handles POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	index := project.NewFileIndex()
	if h.seed != nil {
		if err := h.seed(r.Context(), index); err != nil {
			h.logger.Error("failed to seed file index", zap.Error(err))
			writeError(w, http.StatusBadGateway, "failed to list project files: "+err.Error())
			return
		}
	}

	sess := session.New(h.sandbox, index, &session.Conversation{})
	h.registry.Add(sess)
	h.persist(r.Context(), sess)
	h.logger.Info("created session", zap.String("session", sess.ID), zap.Int("known_files", index.Len()))

	writeJSON(w, http.StatusCreated, createSessionResponse{ID: sess.ID})
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	unlock, err := sess.Lock(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	snap := sess.Snapshot()
	unlock()

	writeJSON(w, http.StatusOK, snap)
}

// AddMessage handles POST /sessions/{id}/messages
func (h *SessionHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Role != session.RoleUser && req.Role != session.RoleAssistant {
		writeError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	unlock, err := sess.Lock(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if sess.Conversation == nil {
		sess.Conversation = &session.Conversation{}
	}
	msg := sess.Conversation.AddMessage(req.Role, req.Content, time.Now())
	unlock()

	h.persist(r.Context(), sess)
	writeJSON(w, http.StatusCreated, msg)
}

// Apply handles POST /sessions/{id}/apply
func (h *SessionHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Response) == "" {
		writeError(w, http.StatusBadRequest, pipeline.ErrEmptyResponse.Error())
		return
	}

	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var (
		res *pipeline.Result
		err error
	)
	if h.sandbox == nil {
		res, err = h.applier.Preview(req.Response)
	} else {
		res, err = h.applier.Apply(r.Context(), sess, pipeline.Request{
			Response: req.Response,
			IsEdit:   req.IsEdit,
			Packages: req.Packages,
		})
	}
	if errors.Is(err, pipeline.ErrEmptyResponse) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	} else if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.persist(r.Context(), sess)
	writeJSON(w, http.StatusOK, res)
}

// lookup finds the session named by the URL, restoring it from the store if needed. It writes a
// 404 and returns false if there is no such session.
func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, err := h.registry.Get(id)
	if err == nil {
		return sess, true
	}

	if h.store != nil {
		snap, storeErr := h.store.Get(r.Context(), id)
		if storeErr != nil {
			h.logger.Error("failed to load session", zap.String("session", id), zap.Error(storeErr))
		} else if snap != nil {
			sess, added := h.registry.GetOrAdd(session.Restore(*snap, h.sandbox))
			if added {
				h.logger.Info("restored session", zap.String("session", id))
			}
			return sess, true
		}
	}

	writeError(w, http.StatusNotFound, err.Error())
	return nil, false
}

// persist saves a snapshot of sess. Failures are logged and never fail the request.
func (h *SessionHandler) persist(ctx context.Context, sess *session.Session) {
	if h.store == nil {
		return
	}
	unlock, err := sess.Lock(ctx)
	if err != nil {
		h.logger.Warn("failed to snapshot session", zap.String("session", sess.ID), zap.Error(err))
		return
	}
	snap := sess.Snapshot()
	unlock()

	if err := h.store.Set(context.WithoutCancel(ctx), sess.ID, snap); err != nil {
		h.logger.Error("failed to persist session", zap.String("session", sess.ID), zap.Error(err))
	}
}
