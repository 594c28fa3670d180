package mqttclient

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

// fakeConn records publishes. Unused mqtt.Client methods panic via the nil
// embedded interface.
type fakeConn struct {
	mqtt.Client
	mu       sync.Mutex
	topic    string
	qos      byte
	retained bool
	payload  []byte
	err      error
}

func (f *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic, f.qos, f.retained = topic, qos, retained
	f.payload, _ = payload.([]byte)
	return doneToken{err: f.err}
}

func TestPublishTranscription(t *testing.T) {
	conn := &fakeConn{}
	c := &Client{conn: conn, topic: "voxrelay/transcriptions", log: zerolog.Nop()}

	c.PublishTranscription(Event{
		RequestID:    "abc123",
		Provider:     "deepgram",
		Model:        "nova-2",
		Outcome:      "ok",
		WordCount:    12,
		Duration:     3.0,
		ProcessingMs: 850,
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.topic != "voxrelay/transcriptions" {
		t.Errorf("topic = %q", conn.topic)
	}
	if conn.qos != 0 || conn.retained {
		t.Errorf("qos=%d retained=%v, want 0/false", conn.qos, conn.retained)
	}

	var got map[string]any
	if err := json.Unmarshal(conn.payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	for _, key := range []string{"request_id", "provider", "model", "outcome", "word_count", "duration", "processing_ms", "timestamp"} {
		if _, ok := got[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	if _, ok := got["transcript"]; ok {
		t.Error("payload must not carry transcript text")
	}
}

func TestPublishTranscription_FailureIsNotSurfaced(t *testing.T) {
	conn := &fakeConn{err: errors.New("not connected")}
	c := &Client{conn: conn, topic: "t", log: zerolog.Nop()}
	// Must not panic or block.
	c.PublishTranscription(Event{Outcome: "error"})
}

func TestConnectionState(t *testing.T) {
	c := &Client{log: zerolog.Nop()}
	if c.IsConnected() {
		t.Fatal("new client should not report connected")
	}
	c.onConnect(nil)
	if !c.IsConnected() {
		t.Error("expected connected after onConnect")
	}
	c.onConnectionLost(nil, errors.New("broker gone"))
	if c.IsConnected() {
		t.Error("expected disconnected after connection loss")
	}
}
