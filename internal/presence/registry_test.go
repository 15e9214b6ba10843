package presence

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegister_FirstConnectionEdge(t *testing.T) {
	r := NewRegistry()

	if !r.Register("u1", "h1") {
		t.Error("first handle should report the online edge")
	}
	if r.Register("u1", "h2") {
		t.Error("second handle must not report an edge")
	}
	if !r.IsOnline("u1") {
		t.Error("user with two handles should be online")
	}
	if got := r.Connections("u1"); got != 2 {
		t.Errorf("Connections = %d, want 2", got)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	r := NewRegistry()

	if !r.Register("u1", "h1") {
		t.Fatal("first registration should report the edge")
	}
	if r.Register("u1", "h1") {
		t.Error("duplicate registration must be a no-op")
	}
	if got := r.Connections("u1"); got != 1 {
		t.Errorf("Connections = %d, want 1 after duplicate register", got)
	}
}

func TestUnregister_LastConnectionEdge(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "h1")
	r.Register("u1", "h2")

	if r.Unregister("u1", "h1") {
		t.Error("removing one of two handles must not report offline")
	}
	if !r.Unregister("u1", "h2") {
		t.Error("removing the last handle should report offline")
	}
	if r.IsOnline("u1") {
		t.Error("user should be offline after last handle removed")
	}
	if r.OnlineCount() != 0 {
		t.Errorf("OnlineCount = %d, want 0 (empty entries must be deleted)", r.OnlineCount())
	}
}

func TestUnregister_UnknownIsNoOp(t *testing.T) {
	r := NewRegistry()

	if r.Unregister("ghost", "h1") {
		t.Error("unregistering an unknown user must not report offline")
	}

	r.Register("u1", "h1")
	if r.Unregister("u1", "nope") {
		t.Error("unregistering an unknown handle must not report offline")
	}
	if !r.IsOnline("u1") {
		t.Error("known handle must survive a bogus unregister")
	}
}

func TestOnlineSession_SingleEdgePair(t *testing.T) {
	// One online and one offline edge per session, regardless of how many
	// sockets the user opens and closes within it.
	r := NewRegistry()

	onlineEdges, offlineEdges := 0, 0
	for i := 0; i < 5; i++ {
		if r.Register("u1", fmt.Sprintf("h%d", i)) {
			onlineEdges++
		}
	}
	for i := 0; i < 5; i++ {
		if r.Unregister("u1", fmt.Sprintf("h%d", i)) {
			offlineEdges++
		}
	}

	if onlineEdges != 1 {
		t.Errorf("online edges = %d, want 1", onlineEdges)
	}
	if offlineEdges != 1 {
		t.Errorf("offline edges = %d, want 1", offlineEdges)
	}
}

func TestRegistry_ConcurrentEdgeCounting(t *testing.T) {
	r := NewRegistry()

	const workers = 32
	var wg sync.WaitGroup
	edges := make(chan string, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h := fmt.Sprintf("h%d", n)
			if r.Register("u1", h) {
				edges <- "online"
			}
			if r.Unregister("u1", h) {
				edges <- "offline"
			}
		}(i)
	}
	wg.Wait()
	close(edges)

	online, offline := 0, 0
	for e := range edges {
		if e == "online" {
			online++
		} else {
			offline++
		}
	}

	// Interleavings may produce several empty<->non-empty transitions, but
	// online and offline edges must pair up and the registry must end empty.
	if online != offline {
		t.Errorf("online edges (%d) != offline edges (%d)", online, offline)
	}
	if online < 1 {
		t.Error("expected at least one online edge")
	}
	if r.IsOnline("u1") {
		t.Error("user must be offline after all handles removed")
	}
}
