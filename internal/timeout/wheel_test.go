package timeout

import (
	"testing"
	"time"
)

func TestSetAndEarliest(t *testing.T) {
	w := New()
	base := time.Now()
	w.Set(1, base.Add(5*time.Second), ReasonHeaderRead)
	w.Set(2, base.Add(1*time.Second), ReasonBodyRead)
	w.Set(3, base.Add(10*time.Second), ReasonWrite)

	earliest, ok := w.Earliest()
	if !ok {
		t.Fatal("Earliest() ok = false, want true")
	}
	if !earliest.Equal(base.Add(1 * time.Second)) {
		t.Errorf("Earliest() = %v, want the deadline for id 2", earliest)
	}
	if w.Len() != 3 {
		t.Errorf("Len() = %d, want 3", w.Len())
	}
}

func TestSetReplacesExistingDeadline(t *testing.T) {
	w := New()
	base := time.Now()
	w.Set(1, base.Add(10*time.Second), ReasonHeaderRead)
	w.Set(1, base.Add(1*time.Second), ReasonBodyRead)

	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (Set should replace, not duplicate)", w.Len())
	}
	earliest, _ := w.Earliest()
	if !earliest.Equal(base.Add(1 * time.Second)) {
		t.Errorf("Earliest() = %v, want updated deadline", earliest)
	}
}

func TestCancelRemovesEntry(t *testing.T) {
	w := New()
	base := time.Now()
	w.Set(1, base.Add(time.Second), ReasonHeaderRead)
	w.Set(2, base.Add(2*time.Second), ReasonHeaderRead)
	w.Cancel(1)

	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after Cancel", w.Len())
	}
	expired := w.Expired(base.Add(5 * time.Second))
	if len(expired) != 1 || expired[0].ID != 2 {
		t.Errorf("Expired() = %v, want only id 2", expired)
	}
}

func TestCancelUnknownIDIsNoop(t *testing.T) {
	w := New()
	w.Cancel(999) // must not panic
	if w.Len() != 0 {
		t.Errorf("Len() = %d, want 0", w.Len())
	}
}

func TestExpiredReturnsInDeadlineOrder(t *testing.T) {
	w := New()
	base := time.Now()
	w.Set(3, base.Add(3*time.Second), ReasonHeaderRead)
	w.Set(1, base.Add(1*time.Second), ReasonBodyRead)
	w.Set(2, base.Add(2*time.Second), ReasonWrite)

	expired := w.Expired(base.Add(10 * time.Second))
	if len(expired) != 3 {
		t.Fatalf("Expired() returned %d entries, want 3", len(expired))
	}
	wantOrder := []uint64{1, 2, 3}
	for i, id := range wantOrder {
		if expired[i].ID != id {
			t.Errorf("Expired()[%d].ID = %d, want %d", i, expired[i].ID, id)
		}
	}
	if w.Len() != 0 {
		t.Errorf("Len() = %d after draining, want 0", w.Len())
	}
}

func TestExpiredLeavesFutureDeadlines(t *testing.T) {
	w := New()
	base := time.Now()
	w.Set(1, base.Add(1*time.Second), ReasonHeaderRead)
	w.Set(2, base.Add(100*time.Second), ReasonHeaderRead)

	expired := w.Expired(base.Add(5 * time.Second))
	if len(expired) != 1 || expired[0].ID != 1 {
		t.Fatalf("Expired() = %v, want only id 1", expired)
	}
	if w.Len() != 1 {
		t.Errorf("Len() = %d, want 1 remaining", w.Len())
	}
}

func TestReasonCarriedThroughExpired(t *testing.T) {
	w := New()
	base := time.Now()
	w.Set(1, base.Add(time.Second), ReasonKeepAliveIdle)
	expired := w.Expired(base.Add(2 * time.Second))
	if len(expired) != 1 || expired[0].Reason != ReasonKeepAliveIdle {
		t.Errorf("Expired() = %v, want ReasonKeepAliveIdle", expired)
	}
}
