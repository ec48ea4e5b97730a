// v0
// internal/breaker/handle.go
package breaker

import (
	"context"
	"errors"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
)

// Handle wraps a transport.Handle so that sends run through a Breaker.
type Handle struct {
	inner transport.Handle
	brk   *Breaker
}

// Guard wraps h with brk. A nil breaker returns h unchanged.
func Guard(h transport.Handle, brk *Breaker) transport.Handle {
	if brk == nil {
		return h
	}
	return &Handle{inner: h, brk: brk}
}

// Send publishes through the breaker. ErrHandleInvalid from the inner
// handle bypasses the failure count; the handle is finished either way.
func (h *Handle) Send(ctx context.Context, msg transport.Message) error {
	var fatal error
	err := h.brk.Execute(ctx, func(ctx context.Context) error {
		err := h.inner.Send(ctx, msg)
		if errors.Is(err, transport.ErrHandleInvalid) {
			fatal = err
			return nil
		}
		return err
	})
	if fatal != nil {
		return fatal
	}
	return err
}

// Close closes the inner handle.
func (h *Handle) Close() error { return h.inner.Close() }

// Breaker exposes the underlying breaker for inspection.
func (h *Handle) Breaker() *Breaker { return h.brk }
