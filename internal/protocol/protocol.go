// Package protocol implements the message codec: decoding the JSON control
// frames exchanged over the relay's WebSocket, classifying their type,
// validating their required fields, and serializing the server's replies.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType is the closed set of control message types the relay
// recognizes. Anything else decodes successfully but classifies Unknown.
type MessageType string

const (
	TypeAuthRequest  MessageType = "auth_request"
	TypeAuthResponse MessageType = "auth_response"
	TypeJoinSession  MessageType = "join_session"
	TypeJoinResponse MessageType = "join_response"
	TypeTouch        MessageType = "touch"
	TypeKey          MessageType = "key"
	TypeSystem       MessageType = "system"
	TypeAppControl   MessageType = "app_control"
	TypeMacro        MessageType = "macro"
	TypeAI           MessageType = "ai"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeStatus       MessageType = "status"
	TypeError        MessageType = "error"
	TypeUnknown      MessageType = "unknown"
)

// Message is a generically decoded control frame: the envelope's declared
// type plus the raw field map, so each handler can pull out the fields it
// needs without a second unmarshal pass.
type Message struct {
	Type   MessageType
	Fields map[string]any
}

// Parse decodes raw JSON into a Message. A JSON syntax error is returned
// as-is; a well-formed object missing "type" still parses with Type ==
// TypeUnknown, mirroring the codec's original tolerant behavior.
func Parse(raw []byte) (Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Message{}, err
	}

	typ := TypeUnknown
	if t, ok := fields["type"].(string); ok {
		typ = stringToType(t)
	}

	return Message{Type: typ, Fields: fields}, nil
}

func stringToType(s string) MessageType {
	switch MessageType(s) {
	case TypeAuthRequest, TypeAuthResponse, TypeJoinSession, TypeJoinResponse,
		TypeTouch, TypeKey, TypeSystem, TypeAppControl, TypeMacro, TypeAI,
		TypePing, TypePong, TypeStatus, TypeError:
		return MessageType(s)
	default:
		return TypeUnknown
	}
}

// Validate applies the structural checks required for msg's type. It
// returns true for types with no further required fields (including
// Unknown, which the codec never rejects structurally).
func Validate(msg Message) bool {
	switch msg.Type {
	case TypeAuthRequest:
		return hasString(msg.Fields, "device_id") && hasString(msg.Fields, "secret")
	case TypeJoinSession:
		return hasString(msg.Fields, "session_id") && hasString(msg.Fields, "jwt_token")
	case TypeTouch:
		return validateTouch(msg.Fields)
	case TypeKey:
		return validateKey(msg.Fields)
	case TypeSystem:
		return hasString(msg.Fields, "action")
	default:
		return true
	}
}

func validateTouch(f map[string]any) bool {
	action, ok := f["action"].(string)
	if !ok {
		return false
	}
	switch action {
	case "tap", "long_press":
		return hasNumber(f, "x") && hasNumber(f, "y")
	case "swipe":
		return hasNumber(f, "start_x") && hasNumber(f, "start_y") &&
			hasNumber(f, "end_x") && hasNumber(f, "end_y")
	default:
		return true
	}
}

func validateKey(f map[string]any) bool {
	action, ok := f["action"].(string)
	if !ok {
		return false
	}
	switch action {
	case "text":
		return hasString(f, "text")
	case "press":
		return hasNumber(f, "keycode")
	default:
		return true
	}
}

func hasString(f map[string]any, key string) bool {
	s, ok := f[key].(string)
	return ok && s != ""
}

func hasNumber(f map[string]any, key string) bool {
	_, ok := f[key].(float64)
	return ok
}

// MakeAuthResponse serializes the server's reply to an auth_request.
func MakeAuthResponse(success bool, sessionID, jwtToken string, expiresAtMs, serverTimeMs int64) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":        TypeAuthResponse,
		"success":     success,
		"session_id":  sessionID,
		"jwt_token":   jwtToken,
		"expires_at":  expiresAtMs,
		"server_time": serverTimeMs,
	})
	return b
}

// MakeJoinResponse serializes the server's reply to a join_session.
func MakeJoinResponse(success bool, deviceInfo, videoConfig map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":         TypeJoinResponse,
		"success":      success,
		"device_info":  deviceInfo,
		"video_config": videoConfig,
	})
	return b
}

// MakeError serializes an error reply.
func MakeError(code, message string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":    TypeError,
		"code":    code,
		"message": message,
	})
	return b
}

// MakeSessionEnd serializes a status notification telling every attached
// controller that its session has ended (device disconnect, explicit
// close, or idle reap), along with why.
func MakeSessionEnd(reason string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":   TypeStatus,
		"status": "session_ended",
		"reason": reason,
	})
	return b
}

// MakePong serializes a pong reply carrying the server's current time.
func MakePong(tsMs int64) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":      TypePong,
		"timestamp": tsMs,
	})
	return b
}

// NowMs is the millisecond-since-epoch timestamp used throughout the
// protocol's emission helpers.
func NowMs(t time.Time) int64 {
	return t.UnixMilli()
}
