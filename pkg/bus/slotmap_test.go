package bus

import "testing"

func TestSlotMapInsertGetRemove(t *testing.T) {
	var m SlotMap[string]

	a := m.Insert("a")
	b := m.Insert("b")
	if a.IsZero() || b.IsZero() {
		t.Fatal("Insert returned zero handle")
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}

	if v, ok := m.Get(a); !ok || v != "a" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}
	if v, ok := m.Remove(a); !ok || v != "a" {
		t.Errorf("Remove(a) = %q, %v", v, ok)
	}
	if _, ok := m.Get(a); ok {
		t.Error("Get on removed handle succeeded")
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
}

func TestSlotMapStaleHandle(t *testing.T) {
	var m SlotMap[int]

	old := m.Insert(1)
	if _, ok := m.Remove(old); !ok {
		t.Fatal("first Remove failed")
	}
	fresh := m.Insert(2)
	if fresh.index != old.index {
		t.Fatalf("slot not reused: %d vs %d", fresh.index, old.index)
	}

	// A second remove through the stale handle must not free the new value.
	if _, ok := m.Remove(old); ok {
		t.Error("Remove on stale handle succeeded")
	}
	if v, ok := m.Get(fresh); !ok || v != 2 {
		t.Errorf("Get(fresh) = %d, %v", v, ok)
	}
}

func TestSlotMapZeroHandle(t *testing.T) {
	var m SlotMap[int]
	m.Insert(1)

	var h Handle
	if _, ok := m.Get(h); ok {
		t.Error("Get(zero) succeeded")
	}
	if _, ok := m.Remove(h); ok {
		t.Error("Remove(zero) succeeded")
	}
}
