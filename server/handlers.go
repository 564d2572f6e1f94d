package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/pulsed/errors"
	"github.com/teranos/pulsed/pulse"
)

// handleCreatePulse enqueues a pulse. Rate limited; producers seeing 429
// should back off and retry.
func (s *Server) handleCreatePulse(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "ingest rate exceeded")
		return
	}

	var req pulse.ScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Source == "" {
		req.Source = pulse.SourceAPI
	}

	id, err := s.ingestor.Schedule(req)
	if err != nil {
		if errors.Is(err, pulse.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Errorw("Failed to enqueue pulse", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue pulse")
		return
	}

	created, err := s.ingestor.Get(id)
	if err != nil {
		s.logger.Errorw("Failed to load created pulse", "pulse_id", id, "error", err)
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListPulses(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("status")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	pulses, err := s.ingestor.List(filter, limit)
	if err != nil {
		if errors.Is(err, pulse.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Errorw("Failed to list pulses", "filter", filter, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list pulses")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pulses": pulses,
		"count":  len(pulses),
	})
}

func (s *Server) handleGetPulse(w http.ResponseWriter, r *http.Request) {
	id, ok := pulseID(w, r)
	if !ok {
		return
	}

	p, err := s.ingestor.Get(id)
	if err != nil {
		if errors.Is(err, pulse.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Errorw("Failed to load pulse", "pulse_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load pulse")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleCancelPulse cancels a pending pulse. Running and terminal pulses
// cannot be cancelled; those return 409.
func (s *Server) handleCancelPulse(w http.ResponseWriter, r *http.Request) {
	id, ok := pulseID(w, r)
	if !ok {
		return
	}

	if err := s.ingestor.Cancel(id); err != nil {
		switch {
		case errors.Is(err, pulse.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, pulse.ErrInvalidState):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Errorw("Failed to cancel pulse", "pulse_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel pulse")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": pulse.StatusCancelled,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ingestor.Stats()
	if err != nil {
		s.logger.Errorw("Failed to read queue stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":  stats,
		"ticker": s.ticker.GetStats(),
	})
}

// handleHealth reports 200 only when the database answers and the ticker
// has ticked recently. Load balancers and watchdogs key off this.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.ingestor.Ping() == nil
	tickerOK := s.ticker.Healthy(time.Now())

	status := http.StatusOK
	state := "ok"
	if !dbOK || !tickerOK {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   state,
		"database": dbOK,
		"ticker":   tickerOK,
	})
}

func pulseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "pulse id must be a positive integer")
		return 0, false
	}
	return id, true
}
