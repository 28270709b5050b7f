package irq

import (
	"errors"
	"testing"
)

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	d := NewDispatcher()
	var seen *Frame
	d.Register(VectorSWI, func(f *Frame) error {
		seen = f
		return nil
	})

	frame := &Frame{PC: 0x1234}
	if err := d.Dispatch(VectorSWI, frame); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if seen != frame {
		t.Fatalf("handler did not receive the dispatched frame")
	}
}

func TestDispatchUnregisteredVectorIsError(t *testing.T) {
	d := NewDispatcher()
	if err := d.Dispatch(VectorDataAbort, &Frame{}); err == nil {
		t.Fatalf("expected error for unregistered vector")
	}
}

func TestRegisterTwiceForSameNonIRQVectorFails(t *testing.T) {
	d := NewDispatcher()
	d.Register(VectorUndefined, func(*Frame) error { return nil })
	if err := d.Register(VectorUndefined, func(*Frame) error { return nil }); err == nil {
		t.Fatalf("expected second registration to fail")
	}
}

func TestIRQVectorChainsMultipleHandlers(t *testing.T) {
	d := NewDispatcher()
	var order []int
	d.Register(VectorIRQ, func(*Frame) error { order = append(order, 1); return nil })
	d.Register(VectorIRQ, func(*Frame) error { order = append(order, 2); return nil })

	if err := d.Dispatch(VectorIRQ, &Frame{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("handlers ran out of order: %v", order)
	}
}

func TestIRQHandlerErrorPropagatesButDoesNotPanic(t *testing.T) {
	d := NewDispatcher()
	boom := errors.New("device wedged")
	d.Register(VectorIRQ, func(*Frame) error { return boom })

	err := d.Dispatch(VectorIRQ, &Frame{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
}
