package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// handleSessionSocket streams the session's event plane to the client as JSON
// text frames. The connection is rejected when the session is not live.
// Client traffic counts as session activity; when the socket goes away the
// session's event plane is dropped.
func (s *Server) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if !s.deps.Sessions.IsValid(sessionID) {
		slog.Warn("websocket rejected: invalid session", "session_id", sessionID)
		http.Error(w, "invalid session", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "session_id", sessionID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	events := s.deps.Bus.RegisterSession(sessionID)
	defer s.deps.Bus.UnregisterSession(sessionID)

	slog.Info("session websocket connected", "session_id", sessionID)
	defer slog.Info("session websocket disconnected", "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader side: every client frame is a liveness signal; a read error
	// means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
			s.deps.Sessions.Touch(sessionID)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				// Plane unregistered (session closed elsewhere).
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				slog.Error("event serialization failed", "err", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Debug("websocket write failed", "session_id", sessionID, "err", err)
				return
			}
		}
	}
}

// handleGlobalSocket streams the global catalog-event plane.
func (s *Server) handleGlobalSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("global websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	events := s.deps.Bus.SubscribeGlobal()
	defer s.deps.Bus.UnsubscribeGlobal(events)

	slog.Info("global websocket connected")
	defer slog.Info("global websocket disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				slog.Error("event serialization failed", "err", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Debug("global websocket write failed", "err", err)
				return
			}
		}
	}
}
