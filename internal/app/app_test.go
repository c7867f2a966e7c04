package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

func TestPendingInput(t *testing.T) {
	p := newPendingInput()
	if p.active(1) {
		t.Fatal("fresh store reports active chat")
	}
	p.set(1)
	if !p.active(1) || p.active(2) {
		t.Fatal("set leaked across chats")
	}
	p.clear(1)
	if p.active(1) {
		t.Fatal("clear did not clear")
	}

	// concurrent handlers race on the same store
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			p.set(id)
			_ = p.active(id)
			p.clear(id)
		}(int64(i))
	}
	wg.Wait()
}

func TestSupervisorCancelOnError(t *testing.T) {
	sup := NewSupervisor(context.Background(), WithCancelOnError(true), WithLogger(logx.Nop()))

	boom := errors.New("boom")
	sup.Go("failing", func(ctx context.Context) error { return boom })
	sup.Go("waiting", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want first error", err)
	}
}

func TestSupervisorRecoversPanic(t *testing.T) {
	sup := NewSupervisor(context.Background(), WithCancelOnError(true), WithLogger(logx.Nop()))
	sup.Go("panicking", func(ctx context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "panic in panicking") {
		t.Fatalf("Wait = %v, want recovered panic error", err)
	}
}

func TestSupervisorStop(t *testing.T) {
	sup := NewSupervisor(context.Background(), WithLogger(logx.Nop()))
	started := make(chan struct{})
	sup.Go("loop", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestParseChatID(t *testing.T) {
	if got := parseChatID(" -1001234567890 "); got != -1001234567890 {
		t.Fatalf("parseChatID = %d", got)
	}
	if got := parseChatID("not a number"); got != 0 {
		t.Fatalf("parseChatID garbage = %d", got)
	}
	if got := parseChatID(""); got != 0 {
		t.Fatalf("parseChatID empty = %d", got)
	}
}

func TestCronEvery(t *testing.T) {
	if got := cronEvery(time.Hour); got != "@every 1h0m0s" {
		t.Fatalf("cronEvery = %q", got)
	}
}

func TestIsDigits(t *testing.T) {
	cases := map[string]bool{
		"45000123": true,
		"0":        true,
		"":         false,
		"45a":      false,
		"сорок":    false,
		"-1":       false,
	}
	for in, want := range cases {
		if got := isDigits(in); got != want {
			t.Errorf("isDigits(%q) = %v, want %v", in, got, want)
		}
	}
}
