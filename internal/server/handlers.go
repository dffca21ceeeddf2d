package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/api"
	"github.com/dgnsrekt/gexlive/internal/live"
	"github.com/dgnsrekt/gexlive/internal/poller"
	"github.com/dgnsrekt/gexlive/internal/session"
	"github.com/dgnsrekt/gexlive/internal/viewmodel"
)

// maxUploadSize bounds multipart compute requests.
const maxUploadSize = 32 << 20

// Controller is the live session as seen by the HTTP layer.
type Controller interface {
	View() viewmodel.View
	Session() session.Snapshot
	Pollers() []poller.State
	UpdateSession(p session.Patch) session.Params
	SetSeriesVisible(name string, visible bool)
	StartStream(ctx context.Context, symbol, expiry string) error
	StopStream() error
	Compute(ctx context.Context, req api.ComputeRequest) (viewmodel.Metrics, error)
	LoadExpiries(ctx context.Context) error
}

type Server struct {
	ctrl   Controller
	logger *zap.Logger
}

func NewServer(ctrl Controller, logger *zap.Logger) *Server {
	return &Server{ctrl: ctrl, logger: logger}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Streaming bool   `json:"streaming"`
	Symbol    string `json:"symbol,omitempty"`
	Expiry    string `json:"expiry,omitempty"`
}

type StreamRequest struct {
	Symbol string `json:"symbol"`
	Expiry string `json:"expiry"`
}

type SeriesRequest struct {
	Visible *bool `json:"visible"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Session()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Streaming: snap.Streaming,
		Symbol:    snap.Params.Symbol,
		Expiry:    snap.Params.Expiry,
	})
}

func (s *Server) GetView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Session())
}

func (s *Server) GetPollers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Pollers())
}

// PatchSession applies a partial edit. Values are not validated.
func (s *Server) PatchSession(w http.ResponseWriter, r *http.Request) {
	var patch session.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding patch: %w", err))
		return
	}
	params := s.ctrl.UpdateSession(patch)
	writeJSON(w, http.StatusOK, params)
}

func (s *Server) PutSeries(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req SeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}
	if req.Visible == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("visible is required"))
		return
	}

	s.ctrl.SetSeriesVisible(name, *req.Visible)
	writeJSON(w, http.StatusOK, s.ctrl.Session().Visible)
}

func (s *Server) StartStream(w http.ResponseWriter, r *http.Request) {
	// An empty body falls back to the session's symbol and expiry.
	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}

	if err := s.ctrl.StartStream(r.Context(), req.Symbol, req.Expiry); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctrl.Session())
}

func (s *Server) StopStream(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StopStream(); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Session())
}

// Compute forwards a multipart upload. The form mirrors the collaborator's
// /compute fields; a request without a file is rejected before anything is sent.
func (s *Server) Compute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parsing form: %w", err))
		return
	}

	req := api.ComputeRequest{ColumnMode: r.FormValue("columnMode")}

	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		req.File = file
		req.FileName = header.Filename
	}

	var perr error
	req.Spot, perr = formFloat(r, "spot", perr)
	req.Volatility, perr = formFloat(r, "vol", perr)
	req.Expiry, perr = formFloat(r, "expiry", perr)
	req.Strikes, perr = formInt(r, "strikes", perr)
	req.ContractSize, perr = formInt(r, "contractSize", perr)
	if perr != nil {
		s.writeError(w, http.StatusBadRequest, perr)
		return
	}

	m, err := s.ctrl.Compute(r.Context(), req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func formFloat(r *http.Request, key string, prev error) (float64, error) {
	v := r.FormValue(key)
	if prev != nil || v == "" {
		return 0, prev
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func formInt(r *http.Request, key string, prev error) (int, error) {
	v := r.FormValue(key)
	if prev != nil || v == "" {
		return 0, prev
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return i, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, live.ErrMissingInput):
		return http.StatusBadRequest
	case errors.Is(err, live.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, live.ErrControllerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
