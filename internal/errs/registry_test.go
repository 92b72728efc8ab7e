package errs

import "testing"

func TestDefinitionUnknownCode(t *testing.T) {
	r := New()
	d := r.Definition("GW-NOPE-999")
	if d.Code != "UNKNOWN" || d.HTTPStatus != 500 || d.Retryable {
		t.Fatalf("unknown code should yield synthetic definition, got %+v", d)
	}
}

func TestDefinitionStability(t *testing.T) {
	r := New()
	tests := []struct {
		code       string
		httpStatus int
		retryable  bool
	}{
		{"GW-API-004", 429, true},
		{"GW-SESS-002", 400, false},
		{"GW-NODE-004", 504, true},
		{"GW-CHAN-004", 502, true},
		{"GW-INT-001", 500, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			d := r.Definition(tt.code)
			if d.HTTPStatus != tt.httpStatus {
				t.Errorf("HTTPStatus = %d, want %d", d.HTTPStatus, tt.httpStatus)
			}
			if d.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", d.Retryable, tt.retryable)
			}
		})
	}
}

func TestCreateAttachesDetails(t *testing.T) {
	r := New()
	err := r.Create("GW-SESS-001", "session-abc")
	if err.Code != "GW-SESS-001" {
		t.Fatalf("Code = %s", err.Code)
	}
	if err.Details != "session-abc" {
		t.Fatalf("Details = %v", err.Details)
	}
	want := "GW-SESS-001: Session not found (session-abc)"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsRetryable(t *testing.T) {
	r := New()
	if !r.IsRetryable("GW-API-001") {
		t.Error("GW-API-001 should be retryable")
	}
	if r.IsRetryable("GW-SESS-003") {
		t.Error("GW-SESS-003 should not be retryable")
	}
}

func TestClassifyTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want TransportClass
	}{
		{"nil", nil, TransportUnknown},
		{"connection refused", errString("dial tcp: connection refused"), TransportTransient},
		{"eof", errString("EOF"), TransportTransient},
		{"invalid", errString("invalid session id"), TransportPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyTransport(tt.err); got != tt.want {
				t.Errorf("ClassifyTransport(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
