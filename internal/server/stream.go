package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent is a progress update sent to SSE clients.
type ProgressEvent struct {
	JobID       string   `json:"jobId"`
	State       JobState `json:"state"`
	Iteration   int      `json:"iteration"`
	Cost        float64  `json:"cost"`
	BestCost    float64  `json:"bestCost"`
	EvalsPerSec float64  `json:"evalsPerSec"`
	Timestamp   int64    `json:"timestamp"`
}

// EventBroadcaster manages event subscriptions per job.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string][]chan ProgressEvent
	lastEvents  map[string]ProgressEvent
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		subscribers: make(map[string][]chan ProgressEvent),
		lastEvents:  make(map[string]ProgressEvent),
	}
}

// Subscribe adds a subscriber for the given job ID. The last known event for
// the job, if any, is replayed immediately so late subscribers see the current
// state.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, 16)
	eb.subscribers[jobID] = append(eb.subscribers[jobID], ch)

	if last, ok := eb.lastEvents[jobID]; ok {
		ch <- last
	}

	return ch
}

// Unsubscribe removes a subscriber channel for the given job ID.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[jobID]) == 0 {
		delete(eb.subscribers, jobID)
	}
}

// Broadcast sends an event to all subscribers of the job. Slow subscribers
// are skipped rather than blocking the worker. Sends happen under the read
// lock so Unsubscribe cannot close a channel mid-send.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	eb.lastEvents[event.JobID] = event
	eb.mu.Unlock()

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// CleanupJob removes all state for a finished job.
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, ch := range eb.subscribers[jobID] {
		close(ch)
	}
	delete(eb.subscribers, jobID)
	delete(eb.lastEvents, jobID)
}

// handleJobStream streams progress events for a job over SSE.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	slog.Debug("SSE client connected", "jobID", jobID)

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("SSE client disconnected", "jobID", jobID)
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Debug("SSE write failed", "jobID", jobID, "error", err)
				return
			}
			flusher.Flush()

			if event.State == StateCompleted || event.State == StateFailed || event.State == StateCancelled {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
