package sched

// FakeCPU is a reference CPU implementation for tests: it does not run real
// machine code, but preserves the contract real hardware must honor — the
// outgoing thread is fully parked before the incoming one is considered
// running — by using a simple counter bookkeeping scheme rather than actual
// goroutine suspension, since the scheduler itself never inspects thread
// memory, only ContextFrame values.
type FakeCPU struct {
	switches int
}

func (f *FakeCPU) Switch(from, to *ContextFrame) {
	f.switches++
}

func (f *FakeCPU) PrepareInitial(entry, userSP uint32) ContextFrame {
	return ContextFrame{PC: entry, SP: userSP}
}

// Switches reports how many times Switch has been called, for fairness
// tests to sanity-check scheduling actually happened.
func (f *FakeCPU) Switches() int {
	return f.switches
}
