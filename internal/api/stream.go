package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"driveguard/internal/events"
	"driveguard/internal/jobs"
	"driveguard/internal/model"
)

const (
	heartbeatInterval = 15 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

func snapshotEvent(job model.Job) events.Event {
	return events.Event{Type: "job.snapshot", Data: map[string]any{"job": job}}
}

func terminalEvent(evt events.Event) bool {
	switch evt.Type {
	case jobs.EventCompleted, jobs.EventFailed, jobs.EventCancelled:
		return true
	}
	return false
}

// streamSSE sends the current job snapshot, then every transition until the job ends.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, job model.Job) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ch := s.Broker.Subscribe(job.ID)
	defer s.Broker.Unsubscribe(job.ID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(evt events.Event) {
		b, _ := json.Marshal(evt.Data)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	// re-read after subscribing so a transition between lookup and subscribe is not lost
	if latest, ok := s.Jobs.Get(job.ID); ok {
		job = latest
	}
	send(snapshotEvent(job))
	if job.Terminal() {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if terminalEvent(evt) {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {\"jobId\":%q,\"ts\":%q}\n\n", job.ID, time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// streamWS mirrors streamSSE over a websocket, one JSON event per message.
func (s *Server) streamWS(w http.ResponseWriter, r *http.Request, job model.Job) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(job.ID)
	defer s.Broker.Unsubscribe(job.ID, ch)

	// reader: handles pongs and notices the client going away
	closed := make(chan struct{})
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	if latest, ok := s.Jobs.Get(job.ID); ok {
		job = latest
	}
	if err := write(snapshotEvent(job)); err != nil || job.Terminal() {
		s.closeWS(conn)
		return
	}

	ping := time.NewTicker(heartbeatInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(evt); err != nil {
				return
			}
			if terminalEvent(evt) {
				s.closeWS(conn)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) closeWS(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
