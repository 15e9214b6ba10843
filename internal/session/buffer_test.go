package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/admitboard/realtime/internal/protocol"
)

func payload(sender, content string, ts int64) protocol.MessagePayload {
	return protocol.MessagePayload{SenderID: sender, Content: content, CreatedAt: ts}
}

func TestBufferAddAndGet(t *testing.T) {
	mb := NewMessageBuffer()

	mb.Add("conv1", payload("a", "hello", 1))
	mb.Add("conv1", payload("b", "hi", 2))
	mb.Add("conv1", payload("a", "how are you?", 3))

	msgs := mb.Get("conv1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hi" || msgs[2].Content != "how are you?" {
		t.Errorf("messages out of order: %+v", msgs)
	}
}

func TestBufferWraparound(t *testing.T) {
	mb := NewMessageBuffer()

	// Add 7 messages; the buffer holds only 5.
	for i := 1; i <= 7; i++ {
		mb.Add("conv1", payload("sender", fmt.Sprintf("msg-%d", i), int64(i)))
	}

	msgs := mb.Get("conv1")
	if len(msgs) != MaxBufferedMessages {
		t.Fatalf("expected %d messages, got %d", MaxBufferedMessages, len(msgs))
	}

	// Should contain messages 3 through 7 in order.
	for i, msg := range msgs {
		expected := fmt.Sprintf("msg-%d", i+3)
		if msg.Content != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, msg.Content)
		}
	}
}

func TestBufferGetUnknownConversation(t *testing.T) {
	mb := NewMessageBuffer()

	msgs := mb.Get("does-not-exist")
	if msgs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages, got %d", len(msgs))
	}
}

func TestBufferRemove(t *testing.T) {
	mb := NewMessageBuffer()

	mb.Add("conv1", payload("a", "hello", 1))
	mb.Remove("conv1")

	if msgs := mb.Get("conv1"); len(msgs) != 0 {
		t.Fatalf("expected 0 messages after remove, got %d", len(msgs))
	}

	// Removing an unknown conversation must not panic.
	mb.Remove("does-not-exist")
}

func TestBufferMultipleConversations(t *testing.T) {
	mb := NewMessageBuffer()

	mb.Add("conv1", payload("a", "c1-msg1", 1))
	mb.Add("conv2", payload("b", "c2-msg1", 2))
	mb.Add("conv1", payload("b", "c1-msg2", 3))

	msgs1 := mb.Get("conv1")
	msgs2 := mb.Get("conv2")

	if len(msgs1) != 2 || len(msgs2) != 1 {
		t.Fatalf("unexpected counts: conv1=%d conv2=%d", len(msgs1), len(msgs2))
	}
	if msgs1[0].Content != "c1-msg1" || msgs1[1].Content != "c1-msg2" {
		t.Errorf("conv1 messages out of order: %+v", msgs1)
	}
}

func TestBufferConcurrentAccess(t *testing.T) {
	mb := NewMessageBuffer()
	convID := "concurrent-conv"
	goroutines := 100
	messagesPerGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for m := 0; m < messagesPerGoroutine; m++ {
				mb.Add(convID, payload(
					fmt.Sprintf("sender-%d", id),
					fmt.Sprintf("g%d-m%d", id, m),
					int64(id*messagesPerGoroutine+m),
				))
				// Interleave reads to stress the RWMutex.
				_ = mb.Get(convID)
			}
		}(g)
	}

	wg.Wait()

	if msgs := mb.Get(convID); len(msgs) != MaxBufferedMessages {
		t.Fatalf("expected %d messages after concurrent writes, got %d", MaxBufferedMessages, len(msgs))
	}
}
