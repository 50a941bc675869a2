package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/devbus/devbus-go/pkg/wire"
)

func TestInboxPollAndTimeout(t *testing.T) {
	q := NewInbox(4)

	if _, err := q.Read(0); !errors.Is(err, wire.ErrNotReady) {
		t.Errorf("poll on empty inbox = %v, want ErrNotReady", err)
	}

	start := time.Now()
	if _, err := q.Read(20 * time.Millisecond); !errors.Is(err, wire.ErrNotReady) {
		t.Errorf("timed read = %v, want ErrNotReady", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("timed read returned early")
	}
}

func TestInboxDrainsBeforeEndOfStream(t *testing.T) {
	q := NewInbox(4)
	q.Push(testMessage(t, []byte{1}))
	q.Push(testMessage(t, []byte{2}))
	q.Close(nil)

	for i := 1; i <= 2; i++ {
		msg, err := q.Read(0)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if msg.Payload[0] != byte(i) {
			t.Errorf("read %d payload = %d", i, msg.Payload[0])
		}
	}
	if _, err := q.Read(time.Second); !errors.Is(err, wire.ErrEndOfStream) {
		t.Errorf("read after drain = %v, want ErrEndOfStream", err)
	}
	if q.Push(testMessage(t, nil)) {
		t.Error("Push after Close succeeded")
	}
}

func TestInboxTryPushFull(t *testing.T) {
	q := NewInbox(1)
	if !q.TryPush(testMessage(t, nil)) {
		t.Fatal("first TryPush failed")
	}
	if q.TryPush(testMessage(t, nil)) {
		t.Error("TryPush on full inbox succeeded")
	}
}

func TestInboxWakesBlockedReader(t *testing.T) {
	q := NewInbox(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(testMessage(t, []byte{7}))
	}()
	msg, err := q.Read(-1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if msg.Payload[0] != 7 {
		t.Errorf("payload = %d", msg.Payload[0])
	}
}

func TestInboxCloseCause(t *testing.T) {
	q := NewInbox(1)
	cause := errors.New("reset")
	q.Close(cause)
	q.Close(errors.New("second"))
	if q.Err() != cause {
		t.Errorf("Err = %v, want first cause", q.Err())
	}
}
