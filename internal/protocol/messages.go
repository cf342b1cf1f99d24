package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage      MessageType = "user_message"
	TypeEndSession       MessageType = "end_session"
	TypeAssistantMessage MessageType = "assistant_message"
	TypeSessionEnded     MessageType = "session_ended"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// UserMessage asks the tutor one question.
type UserMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	TSMs int64       `json:"ts_ms,omitempty"`
}

// EndSession asks for explicit termination.
type EndSession struct {
	Type MessageType `json:"type"`
}

type AssistantMessage struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	Text          string      `json:"text"`
	SessionActive bool        `json:"session_active"`
	MessageCount  int         `json:"message_count"`
}

type SessionEnded struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	Reason        string      `json:"reason"`
	Summary       string      `json:"summary,omitempty"`
	TotalMessages int         `json:"total_messages"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid user_message: text is required")
		}
		return msg, nil
	case TypeEndSession:
		return EndSession{Type: TypeEndSession}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
