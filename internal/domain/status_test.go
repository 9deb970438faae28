package domain

import "testing"

func TestOrderStatusNext(t *testing.T) {
	steps := []struct {
		cur  OrderStatus
		next OrderStatus
	}{
		{StatusNew, StatusPreparing},
		{StatusPreparing, StatusReady},
		{StatusReady, StatusServed},
		{StatusServed, StatusClosed},
	}

	for _, s := range steps {
		got, ok := s.cur.Next()
		if !ok || got != s.next {
			t.Errorf("Next(%s) = %s, %v; want %s, true", s.cur, got, ok, s.next)
		}
	}

	if _, ok := StatusClosed.Next(); ok {
		t.Error("CLOSED must be terminal")
	}
}

func TestCanTransition(t *testing.T) {
	t.Run("immediate successor is allowed", func(t *testing.T) {
		if !CanTransition(StatusNew, StatusPreparing) {
			t.Error("NEW -> PREPARING should be allowed")
		}
		if !CanTransition(StatusServed, StatusClosed) {
			t.Error("SERVED -> CLOSED should be allowed")
		}
	})

	t.Run("re-applying the current status is allowed", func(t *testing.T) {
		for _, s := range []OrderStatus{StatusNew, StatusPreparing, StatusReady, StatusServed, StatusClosed} {
			if !CanTransition(s, s) {
				t.Errorf("%s -> %s should be a no-op, not rejected", s, s)
			}
		}
	})

	t.Run("skipping is rejected", func(t *testing.T) {
		if CanTransition(StatusNew, StatusServed) {
			t.Error("NEW -> SERVED skips steps and must be rejected")
		}
		if CanTransition(StatusNew, StatusClosed) {
			t.Error("NEW -> CLOSED skips steps and must be rejected")
		}
	})

	t.Run("going backward is rejected", func(t *testing.T) {
		if CanTransition(StatusReady, StatusPreparing) {
			t.Error("READY -> PREPARING goes backward and must be rejected")
		}
		if CanTransition(StatusClosed, StatusNew) {
			t.Error("CLOSED is terminal")
		}
	})

	t.Run("unknown statuses are rejected", func(t *testing.T) {
		if CanTransition(StatusNew, OrderStatus("BURNED")) {
			t.Error("unknown target must be rejected")
		}
	})
}
