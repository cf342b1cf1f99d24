package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/tutord/internal/protocol"
	"github.com/antoniostano/tutord/internal/session"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 << 10
)

// handleSessionWS runs exchanges for one existing session over a websocket.
// Frames are handled in arrival order; the connection closes once the session
// terminates.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.sessions.Lookup(r.Context(), sessionID); err != nil {
		respondSessionError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvent("ws_connected")
	logger := s.logger.With(slog.String("session_id", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				logger.WarnContext(ctx, "websocket write failed", slog.Any("error", err))
				cancel()
				_ = conn.Close()
				for range outbound {
				}
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.countWS("outbound", t)
			}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.push(ctx, outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.countWS("inbound", t)
		}
		if !s.dispatch(ctx, sessionID, parsed, outbound) {
			break
		}
	}

	close(outbound)
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

// dispatch handles one client frame and reports whether the session is still
// usable on this connection.
func (s *Server) dispatch(ctx context.Context, sessionID string, msg any, outbound chan<- any) bool {
	switch m := msg.(type) {
	case protocol.UserMessage:
		res, err := s.sessions.SendMessage(ctx, sessionID, m.Text)
		if err != nil {
			s.push(ctx, outbound, errorEvent(sessionID, err))
			return !sessionGone(err)
		}
		s.push(ctx, outbound, protocol.AssistantMessage{
			Type:          protocol.TypeAssistantMessage,
			SessionID:     sessionID,
			Text:          res.Reply,
			SessionActive: res.Active,
			MessageCount:  res.MessageCount,
		})
		if !res.Active {
			s.push(ctx, outbound, protocol.SessionEnded{
				Type:          protocol.TypeSessionEnded,
				SessionID:     sessionID,
				Reason:        "auto_ended",
				TotalMessages: res.MessageCount,
			})
			return false
		}
		return true
	case protocol.EndSession:
		res, err := s.sessions.End(ctx, sessionID)
		if err != nil {
			s.push(ctx, outbound, errorEvent(sessionID, err))
			return !sessionGone(err)
		}
		s.push(ctx, outbound, protocol.SessionEnded{
			Type:          protocol.TypeSessionEnded,
			SessionID:     sessionID,
			Reason:        "ended",
			Summary:       res.Summary,
			TotalMessages: res.TotalMessages,
		})
		return false
	default:
		return true
	}
}

func (s *Server) push(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	case <-ctx.Done():
	}
}

func (s *Server) countWS(direction string, t protocol.MessageType) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
}

func errorEvent(sessionID string, err error) protocol.ErrorEvent {
	ev := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "internal",
		Detail:    "internal error",
	}
	var se *session.Error
	if errors.As(err, &se) {
		ev.Code = string(se.Kind)
		ev.Retryable = se.Retryable()
		ev.Detail = se.Message
	}
	return ev
}

func sessionGone(err error) bool {
	switch session.KindOf(err) {
	case session.KindNotFound, session.KindAlreadyEnded:
		return true
	default:
		return false
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.EndSession:
		return m.Type, true
	case protocol.AssistantMessage:
		return m.Type, true
	case protocol.SessionEnded:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
