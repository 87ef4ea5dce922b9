package framing

import (
	"encoding/json"
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/venvmux/venvmux/internal/rpcmsg"
)

func TestReadMessageParsesContentLengthFramedRequest(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	body := append([]byte("Content-Length: "+strconv.Itoa(len(raw))+"\r\n\r\n"), raw...)

	r, w := net.Pipe()
	go func() { w.Write(body); w.Close() }()

	s := New(r)
	var msg rpcmsg.Message
	if err := s.ReadInto(&msg); err != nil {
		t.Fatalf("ReadInto: %v", err)
	}
	if msg.Method != "initialize" || !msg.IsRequest() {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestWriteMessageEmitsContentLengthHeader(t *testing.T) {
	r, w := net.Pipe()

	go func() {
		s := New(w)
		msg, _ := rpcmsg.NewRequest(rpcmsg.NumberID(1), "test", nil)
		if err := s.Write(msg); err != nil {
			t.Errorf("Write: %v", err)
		}
		w.Close()
	}()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "Content-Length: "
	if len(got) < len(want) || string(got[:len(want)]) != want {
		t.Fatalf("expected frame to start with Content-Length header, got %q", got)
	}
}

func TestRoundTripPreservesMessageShape(t *testing.T) {
	a, b := net.Pipe()
	writer := New(a)
	reader := New(b)

	params := json.RawMessage(`{"query":"Foo"}`)
	sent := &rpcmsg.Message{JSONRPC: rpcmsg.ProtocolVersion, ID: ptr(rpcmsg.NumberID(42)), Method: "workspace/symbol", Params: &params}

	go func() {
		if err := writer.Write(sent); err != nil {
			t.Errorf("Write: %v", err)
		}
	}()

	var got rpcmsg.Message
	if err := reader.ReadInto(&got); err != nil {
		t.Fatalf("ReadInto: %v", err)
	}
	if got.Method != "workspace/symbol" || got.ID == nil || got.ID.Num != 42 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func ptr(id rpcmsg.ID) *rpcmsg.ID { return &id }
