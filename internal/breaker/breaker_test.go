// v1
// internal/breaker/breaker_test.go
package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.now = clk.now
	return b, clk
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{MaxFailures: 3, ResetTimeout: time.Minute, SuccessesToClose: 1})

	for i := 0; i < 2; i++ {
		if err := b.Execute(context.Background(), fail); !errors.Is(err, errBoom) || errors.Is(err, ErrOpen) {
			t.Fatalf("failure %d: expected plain errBoom, got %v", i+1, err)
		}
	}
	err := b.Execute(context.Background(), fail)
	if !errors.Is(err, ErrOpen) || !errors.Is(err, errBoom) {
		t.Fatalf("tripping failure must carry both ErrOpen and cause, got %v", err)
	}
	if errors.Is(err, ErrRejected) {
		t.Fatalf("tripping failure was attempted and must not read as rejected, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected Open, got %v", b.State())
	}

	called := false
	err = b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrRejected) || !errors.Is(err, ErrOpen) || called {
		t.Fatalf("open breaker must fast-fail without calling op (err=%v called=%v)", err, called)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{MaxFailures: 2, ResetTimeout: time.Minute, SuccessesToClose: 1})
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), succeed)
	_ = b.Execute(context.Background(), fail)
	if b.State() != Closed {
		t.Fatalf("non-consecutive failures must not open the breaker, got %v", b.State())
	}
}

func TestBreakerHalfOpenNeedsSuccessesToClose(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: 50 * time.Millisecond, SuccessesToClose: 2})
	_ = b.Execute(context.Background(), fail)
	if b.State() != Open {
		t.Fatalf("expected Open, got %v", b.State())
	}

	clk.advance(60 * time.Millisecond)
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("probe should run after reset timeout: %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after first probe success, got %v", b.State())
	}
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("second probe error: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected Closed after %d successes, got %v", 2, b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second, SuccessesToClose: 1})
	_ = b.Execute(context.Background(), fail)
	clk.advance(2 * time.Second)

	if err := b.Execute(context.Background(), fail); !errors.Is(err, ErrOpen) {
		t.Fatalf("failed probe should report ErrOpen, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected Open after failed probe, got %v", b.State())
	}
	if err := b.Execute(context.Background(), succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("reopened breaker should fast-fail, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []Config{
		{MaxFailures: 0, ResetTimeout: time.Second, SuccessesToClose: 1},
		{MaxFailures: 1, ResetTimeout: 0, SuccessesToClose: 1},
		{MaxFailures: 1, ResetTimeout: time.Second, SuccessesToClose: 0},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

type stubHandle struct {
	errs   []error
	sends  int
	closed bool
}

func (h *stubHandle) Send(context.Context, transport.Message) error {
	h.sends++
	if len(h.errs) == 0 {
		return nil
	}
	err := h.errs[0]
	h.errs = h.errs[1:]
	return err
}

func (h *stubHandle) Close() error { h.closed = true; return nil }

func TestGuardFastFailsAndPassesInvalidHandle(t *testing.T) {
	t.Parallel()
	inner := &stubHandle{errs: []error{errBoom, errBoom}}
	brk, _ := newTestBreaker(Config{MaxFailures: 2, ResetTimeout: time.Hour, SuccessesToClose: 1})
	h := Guard(inner, brk)

	_ = h.Send(context.Background(), transport.Message{})
	_ = h.Send(context.Background(), transport.Message{})
	if err := h.Send(context.Background(), transport.Message{}); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if inner.sends != 2 {
		t.Fatalf("inner handle called %d times while open, want 2", inner.sends)
	}

	inner2 := &stubHandle{errs: []error{transport.ErrHandleInvalid}}
	b2, _ := newTestBreaker(DefaultConfig())
	h2 := Guard(inner2, b2)
	if err := h2.Send(context.Background(), transport.Message{}); !errors.Is(err, transport.ErrHandleInvalid) {
		t.Fatalf("expected ErrHandleInvalid to pass through, got %v", err)
	}
	if err := h2.Close(); err != nil || !inner2.closed {
		t.Fatalf("close must reach inner handle (err=%v)", err)
	}

	if Guard(inner, nil) != transport.Handle(inner) {
		t.Fatalf("nil breaker should return the handle unchanged")
	}
}
