package mbuf

import (
	"errors"
	"testing"
)

func TestPoolGetPut(t *testing.T) {
	p, err := NewPool("test", 2, 2048)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	a, err := p.Get()
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	b, _ := p.Get()
	if _, err := p.Get(); !errors.Is(err, ErrPoolEmpty) {
		t.Errorf("expected ErrPoolEmpty, got %v", err)
	}

	if err := a.SetData([]byte("hello")); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if string(a.Data()) != "hello" {
		t.Errorf("unexpected data %q", a.Data())
	}
	if err := a.SetData(make([]byte, 2048)); err == nil {
		t.Errorf("expected oversize error")
	}

	a.Free()
	b.Free()
	if p.Available() != 2 {
		t.Errorf("expected 2 free buffers, got %d", p.Available())
	}
}

func TestNewPoolValidation(t *testing.T) {
	if _, err := NewPool("small", 1, 64); err == nil {
		t.Errorf("expected error for data room below headroom")
	}
	if _, err := NewPool("empty", 0, 2048); err == nil {
		t.Errorf("expected error for zero size")
	}
}
