package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/learnpulse/clr-hub/internal/domain/telemetry"
	redisinfra "github.com/learnpulse/clr-hub/internal/infrastructure/persistence/redis"
	"github.com/learnpulse/clr-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT INTAKE
// ══════════════════════════════════════════════════════════════════════════════

// handleSubmitEvent accepts one raw behavioral event.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var raw telemetry.RawEvent
	if !s.decodeBody(w, r, &raw) {
		return
	}

	ack := s.deps.Gateway.Submit(r.Context(), raw, getClientIP(r))
	if !ack.Success {
		writeJSON(w, statusForCode(ack.ErrorCode), ack)
		return
	}

	writeJSON(w, http.StatusAccepted, ack)
}

// handleSubmitBatch accepts a batch of raw events sharing a session.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Events []telemetry.RawEvent `json:"events"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}

	ack := s.deps.Gateway.SubmitBatch(r.Context(), body.Events, getClientIP(r))

	status := http.StatusAccepted
	if ack.Failed > 0 && ack.Processed == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ack)
}

// statusForCode maps intake error codes onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case "RATE_LIMIT_EXCEEDED":
		return http.StatusTooManyRequests
	case "VALIDATION_ERROR":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

type sessionRequest struct {
	SessionID string `json:"sessionId"`
	StudentID string `json:"studentId"`
}

// handleSessionStart registers a new learning session.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.StudentID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing_field", "sessionId and studentId are required")
		return
	}

	if err := s.deps.Sessions.Start(r.Context(), req.SessionID, req.StudentID); err != nil {
		s.logger.Error("session start failed",
			logger.SessionID(req.SessionID),
			logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "session_start_failed", "session could not be registered")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId":       req.SessionID,
		"serverTimestamp": time.Now().UnixMilli(),
	})
}

// handleSessionEnd closes a session: remaining buffered events are flagged
// for immediate flush, and the acknowledgment reports how many are pending.
func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing_field", "sessionId is required")
		return
	}

	ctx := r.Context()

	pending, err := s.deps.Pending.Pending(ctx, req.SessionID)
	if err != nil {
		s.logger.Warn("pending count unavailable",
			logger.SessionID(req.SessionID),
			logger.Err(err))
	}

	if pending > 0 {
		if err := s.deps.Flush.MarkPendingFlush(ctx, req.SessionID); err != nil {
			s.logger.Warn("flush flag failed",
				logger.SessionID(req.SessionID),
				logger.Err(err))
		} else {
			s.deps.Sweeps.TriggerNow()
		}
	}

	if err := s.deps.Sessions.End(ctx, req.SessionID); err != nil {
		s.logger.Warn("session end record failed",
			logger.SessionID(req.SessionID),
			logger.Err(err))
	}

	s.deps.Gateway.SessionEnded(req.SessionID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":     req.SessionID,
		"pendingEvents": pending,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// handleHistory serves a student's score history with summary statistics.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("id")
	if studentID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing_field", "student id is required")
		return
	}

	rng := redisinfra.HistoryRange(getQueryParam(r, "range", string(redisinfra.RangeLastDay)))

	points, err := s.deps.History.Query(r.Context(), studentID, rng, time.Now())
	if err != nil {
		if _, rangeErr := rng.Duration(); rangeErr != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_range",
				"range must be one of last_hour, last_day, last_week, last_month")
			return
		}
		s.logger.Error("history query failed",
			logger.StudentID(studentID),
			logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "history_unavailable", "score history could not be read")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"studentId": studentID,
		"range":     string(rng),
		"points":    points,
		"stats":     redisinfra.Stats(points),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIVE FEED
// ══════════════════════════════════════════════════════════════════════════════

// handleLiveFeed upgrades the connection and registers it as a subscriber
// for the student's score updates.
func (s *Server) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	studentID := r.URL.Query().Get("studentId")
	if studentID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing_field", "studentId query parameter is required")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			logger.StudentID(studentID),
			logger.Err(err))
		return
	}

	sub := s.deps.Registry.Register(studentID, conn)
	s.logger.Info("live subscriber connected",
		logger.StudentID(studentID),
		logger.String("ip", getClientIP(r)))

	// Reader loop: inbound frames are discarded, but reading is what
	// surfaces close frames and dead connections.
	go func() {
		defer func() {
			s.deps.Registry.Unregister(studentID, sub)
			_ = conn.Close()
			s.logger.Info("live subscriber disconnected", logger.StudentID(studentID))
		}()

		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports liveness of the backing stores. A degraded event
// store is survivable (the buffer falls back in memory), so only the
// relational store gates the status code.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status": "ok",
		"uptime": s.Uptime().String(),
	}

	status := http.StatusOK

	if s.deps.EventStore != nil {
		if err := s.deps.EventStore.Ping(ctx); err != nil {
			health["eventStore"] = "unreachable"
			health["status"] = "degraded"
		} else {
			health["eventStore"] = "ok"
		}
	}

	if s.deps.RelationalStore != nil {
		if err := s.deps.RelationalStore.Ping(ctx); err != nil {
			health["relationalStore"] = "unreachable"
			health["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			health["relationalStore"] = "ok"
		}
	}

	writeJSON(w, status, health)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DECODING
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody parses a JSON request body, bounding its size. On failure it
// writes the error response and returns false.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_body", "request body is not valid JSON")
		return false
	}
	return true
}
