package circuitbreaker_test

import (
	"testing"
	"time"

	"github.com/tianwen8/puzzlerank.pro-sub000/pkg/circuitbreaker"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := circuitbreaker.New("src", circuitbreaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
	})

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("breaker should allow while closed")
		}
		b.RecordFailure()
	}

	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if b.Allow() {
		t.Fatalf("open breaker must not allow requests")
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	t.Parallel()

	b := circuitbreaker.New("src", circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Millisecond,
	})

	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("breaker should probe after open timeout")
	}
	if b.State() != circuitbreaker.StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}

	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != circuitbreaker.StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	t.Parallel()

	b := circuitbreaker.New("src", circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      10 * time.Millisecond,
	})

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("breaker should probe after open timeout")
	}
	b.RecordFailure()
	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("state = %v, want open after half-open failure", b.State())
	}
}

func TestFailureCountResetsOnSuccess(t *testing.T) {
	t.Parallel()

	b := circuitbreaker.New("src", circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
	})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != circuitbreaker.StateClosed {
		t.Fatalf("interleaved success should reset the failure run")
	}
}
