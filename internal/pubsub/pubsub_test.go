package pubsub

import (
	"testing"
	"time"
)

func recvOrFail(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case msg := <-sub.C():
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := New(4, nil)
	a := bus.Subscribe("room1")
	b := bus.Subscribe("room1")
	defer a.Cancel()
	defer b.Cancel()

	bus.Publish("room1", []byte("hello"))

	if got := string(recvOrFail(t, a)); got != "hello" {
		t.Fatalf("a got %q", got)
	}
	if got := string(recvOrFail(t, b)); got != "hello" {
		t.Fatalf("b got %q", got)
	}
}

func TestPublishSkipsOtherTopics(t *testing.T) {
	bus := New(4, nil)
	other := bus.Subscribe("room2")
	defer other.Cancel()

	bus.Publish("room1", []byte("hello"))

	select {
	case msg := <-other.C():
		t.Fatalf("unexpected message on other topic: %q", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	bus := New(8, nil)
	sub := bus.Subscribe("room1")
	defer sub.Cancel()

	bus.Publish("room1", []byte("1"))
	bus.Publish("room1", []byte("2"))
	bus.Publish("room1", []byte("3"))

	for _, want := range []string{"1", "2", "3"} {
		if got := string(recvOrFail(t, sub)); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	drops := 0
	bus := New(1, func(topic string) { drops++ })
	sub := bus.Subscribe("room1")
	defer sub.Cancel()

	bus.Publish("room1", []byte("kept"))
	bus.Publish("room1", []byte("dropped"))

	if drops != 1 {
		t.Fatalf("got %d drops, want 1", drops)
	}
	if got := string(recvOrFail(t, sub)); got != "kept" {
		t.Fatalf("got %q", got)
	}
}

func TestPublishExceptSkipsSender(t *testing.T) {
	bus := New(4, nil)
	sender := bus.Subscribe("room1")
	other := bus.Subscribe("room1")
	defer sender.Cancel()
	defer other.Cancel()

	bus.PublishExcept("room1", []byte("hello"), sender)

	if got := string(recvOrFail(t, other)); got != "hello" {
		t.Fatalf("other got %q", got)
	}
	select {
	case msg := <-sender.C():
		t.Fatalf("sender should not receive its own publish, got %q", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCancelClosesChannelAndDetaches(t *testing.T) {
	bus := New(4, nil)
	sub := bus.Subscribe("room1")
	sub.Cancel()
	sub.Cancel() // idempotent

	if _, ok := <-sub.C(); ok {
		t.Fatalf("channel should be closed after Cancel")
	}
	if n := bus.Subscribers("room1"); n != 0 {
		t.Fatalf("topic still has %d subscribers", n)
	}

	// Publishing to a topic with no subscribers is a no-op.
	bus.Publish("room1", []byte("nobody"))
}

func TestConcurrentPublishAndCancel(t *testing.T) {
	bus := New(2, nil)
	sub := bus.Subscribe("room1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			bus.Publish("room1", []byte("x"))
		}
	}()

	time.Sleep(time.Millisecond)
	sub.Cancel()
	<-done
}
