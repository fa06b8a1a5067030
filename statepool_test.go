package asyncnet

import "testing"

func TestStatePoolRentCreatesWhenEmpty(t *testing.T) {
	created := 0
	p := newStatePool(statePoolHooks[int]{
		create:   func() *int { created++; v := 0; return &v },
		reset:    func(*int) {},
		canReuse: func(*int) bool { return true },
		destroy:  func(*int) {},
	}, 0)

	v := p.Rent()
	if v == nil {
		t.Fatalf("expected non-nil rental")
	}
	if created != 1 {
		t.Fatalf("expected exactly one create call, got %d", created)
	}
}

func TestStatePoolPreallocate(t *testing.T) {
	created := 0
	p := newStatePool(statePoolHooks[int]{
		create:   func() *int { created++; v := 0; return &v },
		reset:    func(*int) {},
		canReuse: func(*int) bool { return true },
		destroy:  func(*int) {},
	}, 3)

	if created != 3 {
		t.Fatalf("expected 3 preallocated objects, got %d", created)
	}
	if p.Len() != 3 {
		t.Fatalf("expected Len() == 3, got %d", p.Len())
	}
}

func TestStatePoolReturnReusesWhenCanReuse(t *testing.T) {
	resetCalls := 0
	p := newStatePool(statePoolHooks[int]{
		create:   func() *int { v := 0; return &v },
		reset:    func(*int) { resetCalls++ },
		canReuse: func(*int) bool { return true },
		destroy:  func(*int) { t.Fatalf("destroy should not be called") },
	}, 0)

	v := p.Rent()
	p.Return(v)

	if resetCalls != 1 {
		t.Fatalf("expected reset to be called once, got %d", resetCalls)
	}
	if p.Len() != 1 {
		t.Fatalf("expected returned object to sit idle, got Len()=%d", p.Len())
	}
}

func TestStatePoolReturnDestroysWhenCannotReuse(t *testing.T) {
	destroyCalls := 0
	p := newStatePool(statePoolHooks[int]{
		create:   func() *int { v := 0; return &v },
		reset:    func(*int) { t.Fatalf("reset should not be called") },
		canReuse: func(*int) bool { return false },
		destroy:  func(*int) { destroyCalls++ },
	}, 0)

	v := p.Rent()
	p.Return(v)

	if destroyCalls != 1 {
		t.Fatalf("expected destroy to be called once, got %d", destroyCalls)
	}
	if p.Len() != 0 {
		t.Fatalf("expected nothing stored after destroy, got Len()=%d", p.Len())
	}
}

func TestStatePoolReturnNilIsNoop(t *testing.T) {
	p := newStatePool(statePoolHooks[int]{
		create:   func() *int { v := 0; return &v },
		reset:    func(*int) { t.Fatalf("reset should not be called on nil") },
		canReuse: func(*int) bool { t.Fatalf("canReuse should not be called on nil"); return false },
		destroy:  func(*int) {},
	}, 0)
	p.Return(nil)
	if p.Len() != 0 {
		t.Fatalf("expected Len()==0 after returning nil, got %d", p.Len())
	}
}

func TestStatePoolDispose(t *testing.T) {
	destroyed := 0
	p := newStatePool(statePoolHooks[int]{
		create:   func() *int { v := 0; return &v },
		reset:    func(*int) {},
		canReuse: func(*int) bool { return true },
		destroy:  func(*int) { destroyed++ },
	}, 5)

	p.Dispose()
	if destroyed != 5 {
		t.Fatalf("expected 5 objects destroyed, got %d", destroyed)
	}
	if p.Len() != 0 {
		t.Fatalf("expected empty pool after Dispose, got Len()=%d", p.Len())
	}
}

func TestCompletionStatePoolRoundTrip(t *testing.T) {
	p := newCompletionStatePool(0)
	s := p.Rent()
	s.kind = opSend
	s.bytesTransfer = 42
	s.rented = []byte{1, 2, 3}
	p.Return(s)

	reused := p.Rent()
	if reused.kind != 0 || reused.bytesTransfer != 0 || reused.rented != nil {
		t.Fatalf("expected completion state to be reset on reuse, got %+v", reused)
	}
}
