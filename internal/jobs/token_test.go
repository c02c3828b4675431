package jobs

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTokenRequestCancelIsIdempotent(t *testing.T) {
	token := NewToken()
	if token.IsCancelled() {
		t.Fatal("new token is cancelled")
	}

	var wg sync.WaitGroup
	firsts := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			firsts <- token.RequestCancel()
		}()
	}
	wg.Wait()
	close(firsts)

	count := 0
	for first := range firsts {
		if first {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one first request, got %d", count)
	}
	if !token.IsCancelled() || !token.Checker()() {
		t.Fatal("token not cancelled")
	}
}

func TestTokenContextFollowsToken(t *testing.T) {
	token := NewToken()
	ctx, stop := token.Context(context.Background())
	defer stop()

	token.RequestCancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by token")
	}
}

func TestTokenContextFollowsParent(t *testing.T) {
	token := NewToken()
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := token.Context(parent)
	defer stop()

	cancel()
	<-ctx.Done()
	if token.IsCancelled() {
		t.Fatal("parent cancellation must not mark the token cancelled")
	}
}
