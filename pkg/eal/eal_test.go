package eal

import (
	"errors"
	"testing"
)

func TestReserveOrLookup(t *testing.T) {
	primary := New(nil)

	calls := 0
	newData := func() any {
		calls++
		return []int{1, 2, 3}
	}

	mz, err := primary.ReserveOrLookup("blocks", 24, newData)
	if err != nil {
		t.Fatalf("primary reserve failed: %v", err)
	}
	again, err := primary.ReserveOrLookup("blocks", 24, newData)
	if err != nil {
		t.Fatalf("primary lookup failed: %v", err)
	}
	if mz != again || calls != 1 {
		t.Errorf("expected one block created once, got calls=%d same=%v", calls, mz == again)
	}

	secondary := NewSecondary(primary, nil)
	if secondary.IsPrimary() {
		t.Errorf("secondary reports primary role")
	}
	attached, err := secondary.ReserveOrLookup("blocks", 24, newData)
	if err != nil {
		t.Fatalf("secondary attach failed: %v", err)
	}
	if attached != mz {
		t.Errorf("secondary attached to a different block")
	}

	if _, err := secondary.ReserveOrLookup("missing", 8, newData); !errors.Is(err, ErrMemzoneNotFound) {
		t.Errorf("expected ErrMemzoneNotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("secondary must never create blocks, calls=%d", calls)
	}
}

func TestMemzoneReserveDuplicate(t *testing.T) {
	table := NewMemzoneTable()
	if _, err := table.Reserve("a", 1, nil); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := table.Reserve("a", 1, nil); !errors.Is(err, ErrMemzoneExists) {
		t.Errorf("expected ErrMemzoneExists, got %v", err)
	}
	if err := table.Free("a"); err != nil {
		t.Errorf("free failed: %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("expected empty table, got %d", table.Len())
	}
}

func TestHeapLimit(t *testing.T) {
	h := NewHeap(100)
	if err := h.Reserve(60); err != nil {
		t.Fatalf("reserve 60 failed: %v", err)
	}
	if err := h.Reserve(50); !errors.Is(err, ErrHeapExhausted) {
		t.Errorf("expected ErrHeapExhausted, got %v", err)
	}
	h.Release(60)
	if err := h.Reserve(100); err != nil {
		t.Errorf("reserve after release failed: %v", err)
	}
	if h.Used() != 100 {
		t.Errorf("expected 100 used, got %d", h.Used())
	}

	unbounded := NewHeap(0)
	if err := unbounded.Reserve(1 << 40); err != nil {
		t.Errorf("unbounded heap rejected reservation: %v", err)
	}
}

func TestParseProcessType(t *testing.T) {
	tests := []struct {
		in      string
		want    ProcessType
		wantErr bool
	}{
		{"primary", ProcessPrimary, false},
		{"", ProcessPrimary, false},
		{"secondary", ProcessSecondary, false},
		{"tertiary", ProcessPrimary, true},
	}
	for _, tt := range tests {
		got, err := ParseProcessType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseProcessType(%q) = %v, %v", tt.in, got, err)
		}
	}
}
