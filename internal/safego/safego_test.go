package safego

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("goroutine did not complete within timeout")
	}
}

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go("test-task", func() {
		close(done)
	})
	waitFor(t, done)
}

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})

	// This should not crash the test process; the panic must be recovered.
	Go("panicking-task", func() {
		defer close(done)
		panic("intentional panic in test")
	})
	waitFor(t, done)
}
