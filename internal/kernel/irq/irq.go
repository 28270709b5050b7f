// Package irq implements exception and interrupt dispatch for the seven ARM
// exception vectors, and the register frame layout a trap handler sees.
// Grounded on gopher-os' kernel/irq package (Regs/Frame dump structs,
// src/gopheros/kernel/irq/interrupt_amd64.go) and on the teacher's
// Bus/Device indirection (internal/hv) for the vector-to-handler
// registration pattern. No assembly trampoline exists anywhere in the
// reference pack; the boundary between a real exception entry and this
// package is the Frame value a trampoline would construct and pass to
// Dispatcher.Handle, analogous to how the retrieved gopher-os subset models
// the trap boundary as a pure Go struct with the actual entry sequence
// treated as an external, architecture-specific concern.
package irq

import "fmt"

// Vector identifies one of the seven ARM exception vectors.
type Vector int

const (
	VectorReset Vector = iota
	VectorUndefined
	VectorSWI
	VectorPrefetchAbort
	VectorDataAbort
	VectorIRQ
	VectorFIQ
	vectorCount
)

func (v Vector) String() string {
	switch v {
	case VectorReset:
		return "reset"
	case VectorUndefined:
		return "undefined instruction"
	case VectorSWI:
		return "software interrupt"
	case VectorPrefetchAbort:
		return "prefetch abort"
	case VectorDataAbort:
		return "data abort"
	case VectorIRQ:
		return "irq"
	case VectorFIQ:
		return "fiq"
	default:
		return fmt.Sprintf("irq.Vector(%d)", int(v))
	}
}

// Regs is the general-purpose register file saved on exception entry.
type Regs struct {
	R [13]uint32 // r0-r12
}

// Frame is the exception frame a handler receives: the saved general
// registers plus the banked state needed to resume or redirect execution.
type Frame struct {
	Regs
	SP   uint32
	LR   uint32
	PC   uint32
	CPSR uint32
	// FaultAddr is only meaningful for VectorDataAbort/VectorPrefetchAbort
	// (the contents of DFAR/IFAR at fault time).
	FaultAddr uint32
}

// Handler processes one exception. Returning an error from a handler for a
// synchronous exception (abort, undefined instruction, SWI) is a kernel
// panic. An IRQ handler's error does not stop the rest of the IRQ chain:
// Dispatch still runs every registered IRQ handler and then returns the
// first error, wrapped, since a misbehaving device must not be allowed to
// wedge the whole system.
type Handler func(frame *Frame) error

// Dispatcher routes a constructed Frame to the handler registered for its
// vector. SWI and the two abort vectors are core-owned and registered once
// by the syscall and page-fault subsystems; IRQ is shared by every device
// that raises interrupts through the platform's interrupt controller, so it
// is the only vector that supports multiple registrations.
type Dispatcher struct {
	single   [vectorCount]Handler
	irqChain []Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register installs the handler for a non-shared vector. Registering twice
// for the same vector is a programming error.
func (d *Dispatcher) Register(v Vector, h Handler) error {
	if v == VectorIRQ {
		d.irqChain = append(d.irqChain, h)
		return nil
	}
	if v < 0 || v >= vectorCount {
		return fmt.Errorf("irq: invalid vector %d", v)
	}
	if d.single[v] != nil {
		return fmt.Errorf("irq: vector %s already has a handler", v)
	}
	d.single[v] = h
	return nil
}

// Dispatch delivers frame to the handler(s) registered for v. For
// VectorIRQ, every registered handler is invoked in registration order
// (this core does not decode which device raised the line itself — that is
// the InterruptController's job; every handler is expected to check
// whether its own device is the source). Dispatch returns an error if no
// handler at all is registered for a non-IRQ vector, since an unhandled
// synchronous exception must not be silently ignored.
func (d *Dispatcher) Dispatch(v Vector, frame *Frame) error {
	if v == VectorIRQ {
		var first error
		for _, h := range d.irqChain {
			if err := h(frame); err != nil && first == nil {
				first = fmt.Errorf("irq: handler for %s: %w", v, err)
			}
		}
		return first
	}
	if v < 0 || v >= vectorCount || d.single[v] == nil {
		return fmt.Errorf("irq: no handler registered for vector %s", v)
	}
	return d.single[v](frame)
}
