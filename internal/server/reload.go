package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrReloadInProgress is returned when a refresh is already running.
var ErrReloadInProgress = errors.New("reload already in progress")

// ExpiryLoader refreshes the expiry list held by the view model.
type ExpiryLoader interface {
	LoadExpiries(ctx context.Context) error
}

// ReloadManager serializes expiry list refreshes and tracks when the list
// was last loaded.
type ReloadManager struct {
	loader ExpiryLoader
	clock  clockwork.Clock
	logger *zap.Logger

	isReloading atomic.Bool
	reloadMu    sync.Mutex

	loadedAt time.Time
	lastErr  string
	stateMu  sync.RWMutex
}

func NewReloadManager(loader ExpiryLoader, clock clockwork.Clock, logger *zap.Logger) *ReloadManager {
	return &ReloadManager{loader: loader, clock: clock, logger: logger}
}

// ReloadStatus describes the last refresh.
type ReloadStatus struct {
	Reloading bool       `json:"reloading"`
	LoadedAt  *time.Time `json:"loadedAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

func (rm *ReloadManager) IsReloading() bool {
	return rm.isReloading.Load()
}

func (rm *ReloadManager) Status() ReloadStatus {
	rm.stateMu.RLock()
	defer rm.stateMu.RUnlock()

	st := ReloadStatus{Reloading: rm.IsReloading(), LastError: rm.lastErr}
	if !rm.loadedAt.IsZero() {
		at := rm.loadedAt
		st.LoadedAt = &at
	}
	return st
}

// Reload fetches the expiry list. On failure the previous list stays in place.
func (rm *ReloadManager) Reload(ctx context.Context) (ReloadStatus, error) {
	if !rm.reloadMu.TryLock() {
		return rm.Status(), ErrReloadInProgress
	}
	defer rm.reloadMu.Unlock()

	rm.isReloading.Store(true)
	err := rm.loader.LoadExpiries(ctx)
	rm.isReloading.Store(false)

	rm.stateMu.Lock()
	if err != nil {
		rm.lastErr = err.Error()
	} else {
		rm.lastErr = ""
		rm.loadedAt = rm.clock.Now()
	}
	rm.stateMu.Unlock()

	if err != nil {
		rm.logger.Warn("expiry reload failed", zap.Error(err))
		return rm.Status(), err
	}
	rm.logger.Info("expiry list reloaded")
	return rm.Status(), nil
}

func (rm *ReloadManager) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rm.Status())
}

func (rm *ReloadManager) TriggerReload(w http.ResponseWriter, r *http.Request) {
	st, err := rm.Reload(r.Context())
	switch {
	case errors.Is(err, ErrReloadInProgress):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, st)
	}
}
