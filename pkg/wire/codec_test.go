package wire

import (
	"bytes"
	"testing"
)

func TestGreetingRoundTrip(t *testing.T) {
	g := &Greeting{
		Service:       ServiceName,
		Version:       "2.0.0",
		SessionID:     "3e8f2c4a-9a21-4f0e-8a7d-1f2a3b4c5d6e",
		Authenticated: true,
	}

	data, err := EncodeGreeting(g)
	if err != nil {
		t.Fatalf("EncodeGreeting() error = %v", err)
	}

	decoded, err := DecodeGreeting(data)
	if err != nil {
		t.Fatalf("DecodeGreeting() error = %v", err)
	}

	if decoded.Service != g.Service {
		t.Errorf("Service = %q, want %q", decoded.Service, g.Service)
	}
	if decoded.Version != g.Version {
		t.Errorf("Version = %q, want %q", decoded.Version, g.Version)
	}
	if decoded.SessionID != g.SessionID {
		t.Errorf("SessionID = %q, want %q", decoded.SessionID, g.SessionID)
	}
	if !decoded.Authenticated {
		t.Error("Authenticated = false, want true")
	}
}

func TestGreetingValidate(t *testing.T) {
	tests := []struct {
		name     string
		greeting Greeting
		wantErr  bool
	}{
		{
			name:     "Valid",
			greeting: Greeting{Service: ServiceName, Version: "2.0.0"},
			wantErr:  false,
		},
		{
			name:     "MissingService",
			greeting: Greeting{Version: "2.0.0"},
			wantErr:  true,
		},
		{
			name:     "WrongService",
			greeting: Greeting{Service: "vault", Version: "2.0.0"},
			wantErr:  true,
		},
		{
			name:     "MissingVersion",
			greeting: Greeting{Service: ServiceName},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.greeting.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	payload, err := EncodePayload(map[int]string{1: "archive/000000010000000100000001"})
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}

	req := &Request{
		ID:      7,
		Op:      OpRestoreFile,
		Payload: payload,
	}

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	decoded, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}

	if decoded.ID != req.ID {
		t.Errorf("ID = %d, want %d", decoded.ID, req.ID)
	}
	if decoded.Op != req.Op {
		t.Errorf("Op = %v, want %v", decoded.Op, req.Op)
	}

	var inner map[int]string
	if err := DecodePayload(decoded.Payload, &inner); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if got, want := inner[1], "archive/000000010000000100000001"; got != want {
		t.Errorf("payload[1] = %q, want %q", got, want)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		request Request
		wantErr bool
	}{
		{
			name:    "Valid",
			request: Request{ID: 1, Op: OpPing},
			wantErr: false,
		},
		{
			name:    "ZeroID",
			request: Request{ID: 0, Op: OpPing},
			wantErr: true,
		},
		{
			name:    "InvalidOp",
			request: Request{ID: 1, Op: Operation(99)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{
		ID:     7,
		Status: StatusSuccess,
	}

	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}

	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}

	if decoded.ID != resp.ID {
		t.Errorf("ID = %d, want %d", decoded.ID, resp.ID)
	}
	if !decoded.IsSuccess() {
		t.Errorf("IsSuccess() = false, want true")
	}
	if decoded.Error != "" {
		t.Errorf("Error = %q, want empty", decoded.Error)
	}
}

func TestResponseError(t *testing.T) {
	resp := &Response{
		ID:     12,
		Status: StatusDenied,
		Error:  "session is not authenticated",
	}

	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}

	decoded, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}

	if decoded.Status != StatusDenied {
		t.Errorf("Status = %v, want %v", decoded.Status, StatusDenied)
	}
	if decoded.IsSuccess() {
		t.Error("IsSuccess() = true, want false")
	}
	if decoded.Error != resp.Error {
		t.Errorf("Error = %q, want %q", decoded.Error, resp.Error)
	}
}

func TestDecodeRequestInvalid(t *testing.T) {
	if _, err := DecodeRequest([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("DecodeRequest() with garbage expected error, got nil")
	}

	// Structurally valid CBOR but fails request validation.
	data, err := Marshal(Request{ID: 0, Op: OpPing})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if _, err := DecodeRequest(data); err == nil {
		t.Error("DecodeRequest() with zero ID expected error, got nil")
	}
}

func TestCanonicalEncoding(t *testing.T) {
	req := &Request{ID: 3, Op: OpPing}

	first, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	second, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("encoding is not deterministic: % x != % x", first, second)
	}
}

func TestDecodeLenientExtraKeys(t *testing.T) {
	// A newer peer may add keys this version does not know about.
	data, err := Marshal(map[int]any{
		KeyRequestID: uint32(5),
		KeyOperation: uint8(OpPing),
		90:           "future field",
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	decoded, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if decoded.ID != 5 {
		t.Errorf("ID = %d, want 5", decoded.ID)
	}
	if decoded.Op != OpPing {
		t.Errorf("Op = %v, want %v", decoded.Op, OpPing)
	}
}

func TestDecodePayloadEmpty(t *testing.T) {
	var v map[int]string
	if err := DecodePayload(nil, &v); err == nil {
		t.Error("DecodePayload(nil) expected error, got nil")
	}
}

func TestEncodeGreetingInvalid(t *testing.T) {
	if _, err := EncodeGreeting(&Greeting{Service: "wrong"}); err == nil {
		t.Error("EncodeGreeting() with wrong service expected error, got nil")
	}
}

func TestOperation(t *testing.T) {
	tests := []struct {
		op         Operation
		want       string
		valid      bool
		privileged bool
	}{
		{OpPing, "Ping", true, false},
		{OpRestoreFile, "RestoreFile", true, true},
		{OpQuit, "Quit", true, false},
		{Operation(200), "Unknown", false, false},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Operation(%d).String() = %q, want %q", uint8(tt.op), got, tt.want)
		}
		if got := tt.op.IsValid(); got != tt.valid {
			t.Errorf("Operation(%d).IsValid() = %v, want %v", uint8(tt.op), got, tt.valid)
		}
		if got := tt.op.Privileged(); got != tt.privileged {
			t.Errorf("Operation(%d).Privileged() = %v, want %v", uint8(tt.op), got, tt.privileged)
		}
	}
}

func TestStatus(t *testing.T) {
	if !StatusSuccess.IsSuccess() {
		t.Error("StatusSuccess.IsSuccess() = false, want true")
	}
	for _, s := range []Status{StatusError, StatusDenied, StatusUnknownOp} {
		if s.IsSuccess() {
			t.Errorf("%v.IsSuccess() = true, want false", s)
		}
	}
	if got, want := StatusDenied.String(), "DENIED"; got != want {
		t.Errorf("StatusDenied.String() = %q, want %q", got, want)
	}
}
