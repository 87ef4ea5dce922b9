package rpcmsg

import (
	"encoding/json"
	"testing"
)

func TestIDMarshalUnmarshalNumber(t *testing.T) {
	id := NumberID(42)
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != "42" {
		t.Fatalf("got %s, want 42", b)
	}

	var got ID
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.IsString || got.Num != 42 {
		t.Fatalf("got %+v, want NumberID(42)", got)
	}
}

func TestIDMarshalUnmarshalString(t *testing.T) {
	id := StringID("req-1")
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got ID
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.IsString || got.Str != "req-1" {
		t.Fatalf("got %+v, want StringID(\"req-1\")", got)
	}
}

func TestIDMarshalNegativeNumberRoundTrips(t *testing.T) {
	id := NumberID(-7)
	b, _ := json.Marshal(id)
	if string(b) != "-7" {
		t.Fatalf("got %s, want -7", b)
	}
	var got ID
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Num != -7 {
		t.Fatalf("got %d, want -7", got.Num)
	}
}

func TestProxyIDAllocatorIsStrictlyDecreasingAndNegative(t *testing.T) {
	a := NewProxyIDAllocator()
	prev := a.Alloc()
	if prev.Num >= 0 {
		t.Fatalf("expected first allocated id to be negative, got %d", prev.Num)
	}
	for i := 0; i < 10; i++ {
		next := a.Alloc()
		if next.Num >= prev.Num {
			t.Fatalf("ids must be strictly decreasing: prev=%d next=%d", prev.Num, next.Num)
		}
		if next.Num >= 0 {
			t.Fatalf("allocated id must be negative, got %d", next.Num)
		}
		prev = next
	}
}

func TestMessagePredicates(t *testing.T) {
	id := NumberID(1)
	req := &Message{ID: &id, Method: "initialize"}
	if !req.IsRequest() || req.IsNotification() || req.IsResponse() {
		t.Fatalf("expected %+v to classify as a request only", req)
	}

	notif := &Message{Method: "initialized"}
	if !notif.IsNotification() || notif.IsRequest() || notif.IsResponse() {
		t.Fatalf("expected %+v to classify as a notification only", notif)
	}

	resp := &Message{ID: &id}
	if !resp.IsResponse() || resp.IsRequest() || resp.IsNotification() {
		t.Fatalf("expected %+v to classify as a response only", resp)
	}
}

func TestNewErrorResponseUsesInternalErrorCode(t *testing.T) {
	id := NumberID(3)
	req := &Message{ID: &id, Method: "textDocument/hover"}
	resp := NewErrorResponse(req, "boom")
	if resp.Error == nil || resp.Error.Code != CodeInternalError || resp.Error.Message != "boom" {
		t.Fatalf("unexpected error response: %+v", resp)
	}
	if resp.ID != req.ID {
		t.Fatalf("expected error response to echo the request id")
	}
}

func TestNewCancelledResponseUsesCancelCode(t *testing.T) {
	resp := NewCancelledResponse(NumberID(5), "evicted")
	if resp.Error == nil || resp.Error.Code != CodeRequestCancelled {
		t.Fatalf("unexpected cancelled response: %+v", resp)
	}
}

func TestCloneProducesIndependentIDPointer(t *testing.T) {
	id := NumberID(1)
	msg := &Message{ID: &id, Method: "initialize"}
	clone := msg.Clone()

	newID := NumberID(-1)
	clone.ID = &newID

	if msg.ID.Num != 1 {
		t.Fatalf("mutating the clone's id must not affect the original, got %d", msg.ID.Num)
	}
}
