package memory

import (
	"testing"
	"time"
)

func TestRingEvictsLowestImportance(t *testing.T) {
	r := NewRing(3)
	r.Add(Entry{Description: "high", Importance: 8, At: t0})
	r.Add(Entry{Description: "low", Importance: 2, At: t0.Add(time.Minute)})
	r.Add(Entry{Description: "mid", Importance: 5, At: t0.Add(2 * time.Minute)})

	r.Add(Entry{Description: "new", Importance: 4, At: t0.Add(3 * time.Minute)})

	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	for _, e := range r.Entries() {
		if e.Description == "low" {
			t.Fatal("least important entry should have been evicted")
		}
	}
}

func TestRingEvictsOldestAmongTies(t *testing.T) {
	r := NewRing(2)
	r.Add(Entry{Description: "older", Importance: 3, At: t0})
	r.Add(Entry{Description: "newer", Importance: 3, At: t0.Add(time.Hour)})

	r.Add(Entry{Description: "incoming", Importance: 3, At: t0.Add(2 * time.Hour)})

	got := r.Entries()
	if len(got) != 2 || got[0].Description != "newer" || got[1].Description != "incoming" {
		t.Fatalf("got %+v, want oldest tie evicted", got)
	}
}

func TestRingEntriesOldestFirst(t *testing.T) {
	r := NewRing(5)
	for i, d := range []string{"a", "b", "c"} {
		r.Add(Entry{Description: d, Importance: 5, At: t0.Add(time.Duration(i) * time.Minute)})
	}
	got := r.Entries()
	if got[0].Description != "a" || got[2].Description != "c" {
		t.Fatalf("entries out of order: %+v", got)
	}
}

func TestRingZeroCapacityDefaults(t *testing.T) {
	r := NewRing(0)
	for i := 0; i < DefaultRingCap+10; i++ {
		r.Add(Entry{Description: "e", Importance: 5, At: t0})
	}
	if r.Len() != DefaultRingCap {
		t.Fatalf("Len = %d, want %d", r.Len(), DefaultRingCap)
	}
}
