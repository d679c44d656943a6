package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fortitwin/interviewd/internal/session"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server.
	TypeJoin    MessageType = "join"
	TypeMessage MessageType = "message"
	TypeEnd     MessageType = "end"

	// Server -> client.
	TypeHistory MessageType = "history"
	TypeReply   MessageType = "reply"
	TypeEnded   MessageType = "ended"
	TypeError   MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// JoinInterview attaches the connection to an interview, creating the
// session on first join.
type JoinInterview struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// CandidateMessage submits one candidate answer.
type CandidateMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// EndInterview asks the coordinator to finalize the interview.
type EndInterview struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// History is the full transcript view emitted on join.
type History struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"session_id"`
	Turns     []session.Turn `json:"turns"`
}

// Reply carries one assistant turn back to the submitting connection.
type Reply struct {
	Type      MessageType  `json:"type"`
	SessionID string       `json:"session_id"`
	Turn      session.Turn `json:"turn"`
}

// Ended confirms finalization and points the client at its report.
type Ended struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	ReportID  string      `json:"report_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail,omitempty"`
}

// ParseClientMessage decodes and validates one inbound websocket payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeJoin:
		var msg JoinInterview
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, errors.New("invalid join: session_id required")
		}
		return msg, nil
	case TypeMessage:
		var msg CandidateMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.SessionID) == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid message: session_id and text required")
		}
		return msg, nil
	case TypeEnd:
		var msg EndInterview
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, errors.New("invalid end: session_id required")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
