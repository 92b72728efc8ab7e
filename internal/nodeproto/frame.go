// Package nodeproto defines the JSON frame grammar exchanged over the
// companion WebSocket and its per-type validation table, per §4.8.
// Grounded on the teacher's pkg/protocol (typed event envelopes) and
// mcp/manager_connect.go's frame-validate-then-dispatch shape, generalized
// from a single channel-event envelope to the node-management frame set.
package nodeproto

import (
	"encoding/json"
	"fmt"
)

// FrameType enumerates every frame type recognized on the companion socket.
type FrameType string

const (
	TypeRegister          FrameType = "register"
	TypeRegisterAck       FrameType = "register:ack"
	TypeHeartbeat         FrameType = "heartbeat"
	TypeHeartbeatAck      FrameType = "heartbeat:ack"
	TypeActionRequest     FrameType = "action:request"
	TypeActionResponse    FrameType = "action:response"
	TypeCapabilityUpdate  FrameType = "capability:update"
	TypeDisconnect        FrameType = "disconnect"
	TypeError             FrameType = "error"
)

// Frame is the wire envelope every message on the companion socket shares:
// `{type, timestamp, nodeId?, payload?}`.
type Frame struct {
	Type      FrameType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	NodeID    string          `json:"nodeId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RegisterPayload is the payload of a `register` frame.
type RegisterPayload struct {
	Name         string                 `json:"name"`
	Capabilities []string               `json:"capabilities"`
	Platform     map[string]any         `json:"platform"`
	AuthToken    string                 `json:"authToken,omitempty"`
}

// RegisterAckPayload is the payload of a `register:ack` frame.
type RegisterAckPayload struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	// SharedSecret is returned once, on a successful fresh pairing, so the
	// companion can reconnect later with authToken "{nodeId}:{sharedSecret}"
	// instead of minting a new pairing code. Absent on a reconnect ack
	// (the node already holds its secret).
	SharedSecret string `json:"sharedSecret,omitempty"`
}

// ActionRequestPayload is the payload of an `action:request` frame.
type ActionRequestPayload struct {
	RequestID string         `json:"requestId"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	TimeoutMs int64          `json:"timeout,omitempty"`
}

// ActionResponsePayload is the payload of an `action:response` frame.
type ActionResponsePayload struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CapabilityUpdatePayload is the payload of a `capability:update` frame.
type CapabilityUpdatePayload struct {
	Capabilities []string `json:"capabilities"`
}

// DisconnectPayload is the payload of a `disconnect` frame.
type DisconnectPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is the payload of an `error` frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ValidationError is returned by Validate; per §4.8 it is reported to the
// peer as an `error` frame with code INVALID_MESSAGE without closing the
// socket.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "INVALID_MESSAGE: " + e.Reason }

// Unknown reports whether frame carries a type outside the known grammar;
// callers log and ignore these rather than treating them as validation
// errors.
func (f Frame) Unknown() bool {
	switch f.Type {
	case TypeRegister, TypeRegisterAck, TypeHeartbeat, TypeHeartbeatAck,
		TypeActionRequest, TypeActionResponse, TypeCapabilityUpdate,
		TypeDisconnect, TypeError:
		return false
	default:
		return true
	}
}

// Validate checks f against the required-field table in §4.8. It returns
// nil for an Unknown frame — callers must check Unknown() separately and
// log-and-ignore rather than validating those.
func Validate(f Frame) error {
	if f.Unknown() {
		return nil
	}
	if f.Timestamp <= 0 {
		return &ValidationError{Reason: string(f.Type) + " requires timestamp"}
	}
	switch f.Type {
	case TypeRegister:
		var p RegisterPayload
		if err := unmarshalPayload(f, &p); err != nil {
			return err
		}
		if p.Name == "" {
			return &ValidationError{Reason: "register requires payload.name"}
		}
		if p.Capabilities == nil {
			return &ValidationError{Reason: "register requires payload.capabilities"}
		}
		if p.Platform == nil {
			return &ValidationError{Reason: "register requires payload.platform"}
		}
	case TypeRegisterAck:
		if f.NodeID == "" {
			return &ValidationError{Reason: "register:ack requires nodeId"}
		}
		var p RegisterAckPayload
		if err := unmarshalPayload(f, &p); err != nil {
			return err
		}
	case TypeHeartbeat, TypeHeartbeatAck:
		if f.NodeID == "" {
			return &ValidationError{Reason: string(f.Type) + " requires nodeId"}
		}
	case TypeActionRequest:
		if f.NodeID == "" {
			return &ValidationError{Reason: "action:request requires nodeId"}
		}
		var p ActionRequestPayload
		if err := unmarshalPayload(f, &p); err != nil {
			return err
		}
		if p.RequestID == "" || p.Action == "" {
			return &ValidationError{Reason: "action:request requires payload.requestId and payload.action"}
		}
	case TypeActionResponse:
		if f.NodeID == "" {
			return &ValidationError{Reason: "action:response requires nodeId"}
		}
		var p ActionResponsePayload
		if err := unmarshalPayload(f, &p); err != nil {
			return err
		}
		if p.RequestID == "" {
			return &ValidationError{Reason: "action:response requires payload.requestId"}
		}
	case TypeCapabilityUpdate:
		if f.NodeID == "" {
			return &ValidationError{Reason: "capability:update requires nodeId"}
		}
		var p CapabilityUpdatePayload
		if err := unmarshalPayload(f, &p); err != nil {
			return err
		}
		if p.Capabilities == nil {
			return &ValidationError{Reason: "capability:update requires payload.capabilities"}
		}
	case TypeDisconnect:
		if f.NodeID == "" {
			return &ValidationError{Reason: "disconnect requires nodeId"}
		}
	case TypeError:
		var p ErrorPayload
		if err := unmarshalPayload(f, &p); err != nil {
			return err
		}
		if p.Code == "" || p.Message == "" {
			return &ValidationError{Reason: "error requires payload.code and payload.message"}
		}
	}
	return nil
}

func unmarshalPayload(f Frame, v any) error {
	if len(f.Payload) == 0 {
		return &ValidationError{Reason: fmt.Sprintf("%s requires a payload", f.Type)}
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("%s has a malformed payload: %v", f.Type, err)}
	}
	return nil
}
