package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/internal/service"
	"github.com/sigmafold/alphahunt/models"
)

// Server exposes hunts and status over HTTP.
type Server struct {
	coord  *service.Coordinator
	addr   string
	logger *zap.Logger
}

func NewServer(coord *service.Coordinator, addr string, logger *zap.Logger) *Server {
	return &Server{coord: coord, addr: addr, logger: logger.Named("http")}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hunt", s.handleHunt)
	mux.HandleFunc("POST /hunt/stream", s.handleHuntStream)
	mux.HandleFunc("GET /reports/{id}", s.handleReport)
	mux.HandleFunc("GET /status/reputation", s.handleReputation)
	mux.HandleFunc("GET /status/breakers", s.handleBreakers)
	mux.HandleFunc("GET /status/settlements", s.handleSettlements)
	mux.HandleFunc("GET /status/autopilot", s.handleAutopilot)
	mux.HandleFunc("POST /autopilot/start", s.handleAutopilotStart)
	mux.HandleFunc("POST /autopilot/stop", s.handleAutopilotStop)
	return mux
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type huntRequest struct {
	Topic string `json:"topic"`
}

func (s *Server) decodeHunt(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req huntRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if req.Topic == "" {
		s.writeError(w, http.StatusBadRequest, "topic is required")
		return "", false
	}
	return req.Topic, true
}

func (s *Server) handleHunt(w http.ResponseWriter, r *http.Request) {
	topic, ok := s.decodeHunt(w, r)
	if !ok {
		return
	}
	report := s.coord.Hunt(r.Context(), topic)
	s.writeJSON(w, http.StatusOK, report)
}

// handleHuntStream writes one JSON line per stage event, flushed as the
// hunt progresses. The last line is always the done stage.
func (s *Server) handleHuntStream(w http.ResponseWriter, r *http.Request) {
	topic, ok := s.decodeHunt(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	s.coord.StreamHunt(r.Context(), topic, func(ev models.StageEvent) {
		if err := encoder.Encode(ev); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	report, ok := s.coord.CachedReport(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "report not found or expired")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Reputation())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Breakers())
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pending": s.coord.PendingSettlements(),
		"history": s.coord.SettlementHistory(),
	})
}

func (s *Server) handleAutopilot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.AutopilotState())
}

func (s *Server) handleAutopilotStart(w http.ResponseWriter, r *http.Request) {
	// The loop must outlive this request; it stops with the coordinator.
	s.writeJSON(w, http.StatusOK, s.coord.StartAutopilot(context.Background()))
}

func (s *Server) handleAutopilotStop(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.StopAutopilot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
