package store

import (
	"context"
	"testing"
)

func TestCounters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetCounter(ctx, 0, "xreposync_from_1")
	if err != nil {
		t.Fatalf("GetCounter() failed: %v", err)
	}
	if ok {
		t.Error("unset counter reported as set")
	}

	for _, v := range []int64{3, 3, 7} {
		if err := s.SetCounter(ctx, 0, "xreposync_from_1", v); err != nil {
			t.Fatalf("SetCounter(%d) failed: %v", v, err)
		}
	}
	if err := s.SetCounter(ctx, 0, "xreposync_from_1", 5); err == nil {
		t.Error("SetCounter() moved a counter backwards")
	}

	value, ok, err := s.GetCounter(ctx, 0, "xreposync_from_1")
	if err != nil {
		t.Fatalf("GetCounter() failed: %v", err)
	}
	if !ok || value != 7 {
		t.Errorf("GetCounter() = %d, %v, want 7, true", value, ok)
	}

	// Counters are scoped by repo.
	if _, ok, _ := s.GetCounter(ctx, 1, "xreposync_from_1"); ok {
		t.Error("counter of repo 0 visible in repo 1")
	}
}
