package nodeproto

import (
	"encoding/json"
	"testing"
)

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestValidateRegister(t *testing.T) {
	valid := Frame{
		Type: TypeRegister, Timestamp: 1,
		Payload: mustPayload(t, RegisterPayload{Name: "kitchen-pi", Capabilities: []string{"camera"}, Platform: map[string]any{"os": "linux"}}),
	}
	if err := Validate(valid); err != nil {
		t.Fatalf("expected valid register frame to pass, got %v", err)
	}

	missingName := Frame{Type: TypeRegister, Timestamp: 1, Payload: mustPayload(t, RegisterPayload{Capabilities: []string{"camera"}, Platform: map[string]any{}})}
	if err := Validate(missingName); err == nil {
		t.Fatal("expected error for register missing payload.name")
	}

	noPayload := Frame{Type: TypeRegister, Timestamp: 1}
	if err := Validate(noPayload); err == nil {
		t.Fatal("expected error for register with no payload at all")
	}
}

func TestValidateHeartbeatRequiresNodeID(t *testing.T) {
	if err := Validate(Frame{Type: TypeHeartbeat, Timestamp: 1}); err == nil {
		t.Fatal("expected error for heartbeat missing nodeId")
	}
	if err := Validate(Frame{Type: TypeHeartbeat, Timestamp: 1, NodeID: "companion-1"}); err != nil {
		t.Fatalf("expected valid heartbeat to pass, got %v", err)
	}
}

func TestValidateActionRequest(t *testing.T) {
	ok := Frame{
		Type: TypeActionRequest, Timestamp: 1, NodeID: "companion-1",
		Payload: mustPayload(t, ActionRequestPayload{RequestID: "action-1", Action: "take_photo"}),
	}
	if err := Validate(ok); err != nil {
		t.Fatalf("expected valid action:request to pass, got %v", err)
	}

	missing := Frame{
		Type: TypeActionRequest, Timestamp: 1, NodeID: "companion-1",
		Payload: mustPayload(t, ActionRequestPayload{Action: "take_photo"}),
	}
	if err := Validate(missing); err == nil {
		t.Fatal("expected error for action:request missing payload.requestId")
	}
}

func TestValidateActionResponse(t *testing.T) {
	ok := Frame{
		Type: TypeActionResponse, Timestamp: 1, NodeID: "companion-1",
		Payload: mustPayload(t, ActionResponsePayload{RequestID: "action-1", Success: true}),
	}
	if err := Validate(ok); err != nil {
		t.Fatalf("expected valid action:response to pass, got %v", err)
	}
}

func TestValidateCapabilityUpdate(t *testing.T) {
	ok := Frame{Type: TypeCapabilityUpdate, Timestamp: 1, NodeID: "companion-1", Payload: mustPayload(t, CapabilityUpdatePayload{Capabilities: []string{"camera"}})}
	if err := Validate(ok); err != nil {
		t.Fatalf("expected valid capability:update to pass, got %v", err)
	}
	missing := Frame{Type: TypeCapabilityUpdate, Timestamp: 1, NodeID: "companion-1"}
	if err := Validate(missing); err == nil {
		t.Fatal("expected error for capability:update with no payload")
	}
}

func TestValidateErrorFrame(t *testing.T) {
	ok := Frame{Type: TypeError, Timestamp: 1, Payload: mustPayload(t, ErrorPayload{Code: "INVALID_MESSAGE", Message: "bad frame"})}
	if err := Validate(ok); err != nil {
		t.Fatalf("expected valid error frame to pass, got %v", err)
	}
}

func TestValidateDisconnect(t *testing.T) {
	if err := Validate(Frame{Type: TypeDisconnect, Timestamp: 1}); err == nil {
		t.Fatal("expected error for disconnect missing nodeId")
	}
	if err := Validate(Frame{Type: TypeDisconnect, Timestamp: 1, NodeID: "companion-1"}); err != nil {
		t.Fatalf("expected valid disconnect to pass, got %v", err)
	}
}

func TestUnknownTypeIsIgnoredNotRejected(t *testing.T) {
	f := Frame{Type: "some:future:type", Timestamp: 1}
	if !f.Unknown() {
		t.Fatal("expected unrecognized type to report Unknown() == true")
	}
	if err := Validate(f); err != nil {
		t.Fatalf("Validate on an unknown type must return nil (log-and-ignore), got %v", err)
	}
}
