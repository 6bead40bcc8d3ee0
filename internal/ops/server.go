// Package ops serves the operational HTTP endpoints: health, cursor listing
// and cursor reset.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/config"
	"github.com/mehmetymw/recordsync/internal/outbox"
	"github.com/mehmetymw/recordsync/internal/replica"
	"github.com/mehmetymw/recordsync/internal/types"
)

type CursorLister interface {
	List(ctx context.Context) ([]types.SyncCursor, error)
}

type CursorResetter interface {
	ResetToCurrent(ctx context.Context, syncKey, entityType string, columns []string, pageSize int) (int, error)
}

// CursorOwner is a running consumer that resets its own cursor between polls.
type CursorOwner interface {
	ResetCursor(ctx context.Context) (int, error)
}

type OutboxStatus interface {
	Status() outbox.Status
}

type ReplicaStatus interface {
	Status() replica.Status
}

// Consumer is a configured (sync key, entity type) pair that may be reset.
// When Owner is set the reset goes through it; otherwise the cursor is reset
// directly, which is only safe while nothing else polls it.
type Consumer struct {
	SyncKey    string
	EntityType string
	Columns    []string
	PageSize   int
	Owner      CursorOwner
}

// Consumers lists every feed consumer named in cfg.
func Consumers(cfg config.Config) []Consumer {
	var out []Consumer
	for _, o := range cfg.Outbox {
		out = append(out, Consumer{SyncKey: o.SyncKey, EntityType: o.EntityType, Columns: o.Columns, PageSize: o.PageSize})
	}
	if cfg.Replica.Enabled {
		r := cfg.Replica
		out = append(out, Consumer{SyncKey: r.SyncKey, EntityType: r.EntityType, Columns: r.Columns, PageSize: r.PageSize})
	}
	return out
}

// SetOwner attaches owner to the consumer of (syncKey, entityType).
func SetOwner(consumers []Consumer, syncKey, entityType string, owner CursorOwner) bool {
	for i := range consumers {
		if consumers[i].SyncKey == syncKey && consumers[i].EntityType == entityType {
			consumers[i].Owner = owner
			return true
		}
	}
	return false
}

func FindConsumer(consumers []Consumer, syncKey, entityType string) (Consumer, bool) {
	for _, c := range consumers {
		if c.SyncKey == syncKey && c.EntityType == entityType {
			return c, true
		}
	}
	return Consumer{}, false
}

type Server struct {
	cursors    CursorLister
	resetter   CursorResetter
	consumers  []Consumer
	processors []OutboxStatus
	replica    ReplicaStatus
	logger     *zap.Logger
	now        func() time.Time
}

func NewServer(cursors CursorLister, resetter CursorResetter, consumers []Consumer, processors []OutboxStatus, replica ReplicaStatus, logger *zap.Logger) *Server {
	return &Server{
		cursors:    cursors,
		resetter:   resetter,
		consumers:  consumers,
		processors: processors,
		replica:    replica,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/cursors", s.handleListCursors).Methods(http.MethodGet)
	r.HandleFunc("/cursors/{syncKey}/{entityType}/reset", s.handleResetCursor).Methods(http.MethodPost)
	return r
}

type healthz struct {
	Status    string          `json:"status"`
	Outbox    []outbox.Status `json:"outbox"`
	Replica   *replica.Status `json:"replica,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Health check requested")
	resp := healthz{Status: "running", Outbox: []outbox.Status{}, Timestamp: s.now().Format(time.RFC3339)}
	for _, p := range s.processors {
		resp.Outbox = append(resp.Outbox, p.Status())
	}
	if s.replica != nil {
		st := s.replica.Status()
		resp.Replica = &st
	}
	respondJSON(w, http.StatusOK, resp)
}

type cursorView struct {
	SyncKey    string    `json:"sync_key"`
	EntityType string    `json:"entity_type"`
	Token      string    `json:"token"`
	UpdatedAt  time.Time `json:"updated_at"`
	AgeSeconds int64     `json:"age_seconds"`
}

func (s *Server) handleListCursors(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.cursors.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to list cursors", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := s.now()
	out := make([]cursorView, 0, len(cursors))
	for _, c := range cursors {
		out = append(out, cursorView{
			SyncKey:    c.SyncKey,
			EntityType: c.EntityType,
			Token:      c.Token,
			UpdatedAt:  c.UpdatedAt,
			AgeSeconds: int64(now.Sub(c.UpdatedAt) / time.Second),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleResetCursor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	syncKey, entityType := vars["syncKey"], vars["entityType"]
	c, ok := FindConsumer(s.consumers, syncKey, entityType)
	if !ok {
		respondError(w, http.StatusNotFound, "no consumer configured for "+syncKey+"/"+entityType)
		return
	}

	var skipped int
	var err error
	if c.Owner != nil {
		skipped, err = c.Owner.ResetCursor(r.Context())
	} else {
		skipped, err = s.resetter.ResetToCurrent(r.Context(), c.SyncKey, c.EntityType, c.Columns, c.PageSize)
	}
	if err != nil {
		s.logger.Error("Cursor reset failed",
			zap.String("sync_key", syncKey),
			zap.String("entity_type", entityType),
			zap.Error(err))
		status := http.StatusInternalServerError
		if types.IsTransient(err) || errors.Is(err, types.ErrFeedRequest) {
			status = http.StatusBadGateway
		}
		respondError(w, status, err.Error())
		return
	}
	s.logger.Info("Cursor reset to current",
		zap.String("sync_key", syncKey),
		zap.String("entity_type", entityType),
		zap.Int("skipped", skipped))
	respondJSON(w, http.StatusOK, map[string]any{"sync_key": syncKey, "entity_type": entityType, "skipped": skipped})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	b, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
