package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var (
	// ErrSignal is the shutdown cause when a signal stopped the daemon.
	ErrSignal = errors.New("received signal")
	// ErrStopRequested is the shutdown cause of Stop.
	ErrStopRequested = errors.New("stop requested")
)

// signalContext returns a context that is cancelled when SIGTERM or SIGINT
// is received, with the signal as its cause. The returned stop function
// cancels with the given cause and must be called to release resources.
func signalContext(parent context.Context) (context.Context, func(cause error)) {
	ctx, cancel := context.WithCancelCause(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-ch:
			cancel(fmt.Errorf("%w: %s", ErrSignal, sig))
		case <-ctx.Done():
		}
	}()

	return ctx, func(cause error) {
		signal.Stop(ch)
		cancel(cause)
	}
}
