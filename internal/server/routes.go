package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/offerengine/internal/interfaces"
)

const defaultHistoryLimit = 50

// registerRoutes wires every endpoint spec §6 names onto mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/event", s.handleCreateEvent)
	mux.HandleFunc("/events/bulk", s.handleCreateBulk)
	mux.HandleFunc("/events/history", s.handleEventsHistory)
	mux.HandleFunc("/events", s.handleListEventNames)
	mux.HandleFunc("/jobs", s.handleJobsList)
	mux.HandleFunc("/jobs/", s.handleRunJob)
}

// handleHealth implements GET /health: 204 iff the database is reachable,
// 503 otherwise (spec §6).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	if err := s.storage.Health(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createEventRequest is the POST /event body: a tagged-variant event
// object plus a delay duration string (e.g. "5m", "30s").
type createEventRequest struct {
	Event json.RawMessage `json:"event"`
	Delay string          `json:"delay"`
}

type taggedVariant struct {
	Variant string `json:"variant"`
}

// handleCreateEvent implements POST /event (spec §6): 201 {id} on accept,
// 400 on a malformed body, 5xx on storage failure.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req createEventRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	name, delay, ok := parseEventEnvelope(w, req.Event, req.Delay)
	if !ok {
		return
	}

	id, err := s.eventManager.CreateEvent(r.Context(), name, req.Event, delay, correlationID(r))
	if err != nil {
		s.logger.Error().Err(err).Str("name", name).Msg("Failed to create event")
		WriteError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

// bulkCreateRequest is the POST /events/bulk body.
type bulkCreateRequest struct {
	Events []createEventRequest `json:"events"`
}

// handleCreateBulk implements POST /events/bulk (spec §6): 200 {ids:[...]}
// with one entry per input item; a failed item yields an empty string
// and is logged, never aborting the rest of the batch.
func (s *Server) handleCreateBulk(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req bulkCreateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	traceID := correlationID(r)
	out := make([]string, len(req.Events))
	items := make([]interfaces.EventRequest, 0, len(req.Events))
	itemIndex := make([]int, 0, len(req.Events))
	for i, item := range req.Events {
		name, delay, ok := parseEventEnvelope(nil, item.Event, item.Delay)
		if !ok {
			s.logger.Warn().Int("index", i).Msg("Bulk event item malformed, skipping")
			continue
		}
		items = append(items, interfaces.EventRequest{Name: name, Payload: item.Event, Delay: delay, TraceID: traceID})
		itemIndex = append(itemIndex, i)
	}

	ids, errs := s.eventManager.CreateBulk(r.Context(), items)
	for j, id := range ids {
		i := itemIndex[j]
		if errs[j] != nil {
			s.logger.Warn().Err(errs[j]).Int("index", i).Msg("Bulk event item failed")
			continue
		}
		out[i] = id.String()
	}

	WriteJSON(w, http.StatusOK, map[string][]string{"ids": out})
}

// handleEventsHistory implements GET /events/history?limit=N (spec §6).
func (s *Server) handleEventsHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := queryLimit(r, defaultHistoryLimit)
	active, historical, err := s.eventStore.History(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load event history")
		WriteError(w, http.StatusInternalServerError, "failed to load event history")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"active_events":     active,
		"historical_events": historical,
	})
}

// handleListEventNames implements GET /events (spec §6): the set of
// registered event variant names.
func (s *Server) handleListEventNames(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string][]string{"events": s.registry.Names()})
}

// handleJobsList implements GET /jobs?limit=N (spec §6).
func (s *Server) handleJobsList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := queryLimit(r, defaultHistoryLimit)

	statuses, err := s.scheduler.Introspect()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to introspect job scheduler")
		WriteError(w, http.StatusInternalServerError, "failed to introspect jobs")
		return
	}

	history, err := s.scheduler.History(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load job execution history")
		WriteError(w, http.StatusInternalServerError, "failed to load job history")
		return
	}

	currentJobs := make([]map[string]string, 0, len(statuses))
	taskQueue := make([]map[string]interface{}, 0, len(statuses))
	for _, status := range statuses {
		currentJobs = append(currentJobs, map[string]string{"name": status.Name, "state": status.State})
		if status.SecondsUntilNext != nil {
			taskQueue = append(taskQueue, map[string]interface{}{
				"name":               status.Name,
				"seconds_until_next": *status.SecondsUntilNext,
			})
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"current_jobs": currentJobs,
		"history":      history,
		"task_queue":   taskQueue,
	})
}

// handleRunJob implements POST /jobs/{name}/run (spec §6): 204 on accept.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	name := PathParam(r, "/jobs/")
	if name == "" {
		WriteError(w, http.StatusNotFound, "job name is required")
		return
	}
	name, ok := cutSuffix(name, "/run")
	if !ok {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.scheduler.RunJob(r.Context(), name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func cutSuffix(path, suffix string) (string, bool) {
	if len(path) <= len(suffix) || path[len(path)-len(suffix):] != suffix {
		return "", false
	}
	return path[:len(path)-len(suffix)], true
}

func parseEventEnvelope(w http.ResponseWriter, event json.RawMessage, delayRaw string) (string, time.Duration, bool) {
	var tv taggedVariant
	if err := json.Unmarshal(event, &tv); err != nil || tv.Variant == "" {
		if w != nil {
			WriteError(w, http.StatusBadRequest, "event must carry a non-empty \"variant\" field")
		}
		return "", 0, false
	}

	delay, err := time.ParseDuration(delayRaw)
	if err != nil {
		if delayRaw == "" {
			delay = 0
		} else if w != nil {
			WriteError(w, http.StatusBadRequest, "delay must be a duration string (e.g. \"5m\")")
			return "", 0, false
		} else {
			return "", 0, false
		}
	}

	return tv.Variant, delay, true
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}
