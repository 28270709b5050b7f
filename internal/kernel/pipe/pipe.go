// Package pipe implements the kernel's anonymous pipes: a fixed-capacity
// ring buffer with blocking-aware Read/Write, refcounted endpoints so
// closing one end doesn't invalidate the other.
package pipe

import (
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
)

const minCapacity = 1024

// Pipe is a fixed-capacity byte ring shared between a reader and a writer
// endpoint. Capacity is a constructor parameter rather than a package
// constant so tests can exercise full/empty boundaries cheaply.
type Pipe struct {
	mu       ksync.Mutex
	buf      []byte
	readPos  int
	writePos int
	size     int // bytes currently buffered

	readers *ksync.Counter
	writers *ksync.Counter
}

// New creates a pipe with the given capacity, enforcing the minimum
// capacity the base design requires so a pathologically small pipe cannot
// starve writers on every single byte.
func New(capacity int) (*Pipe, error) {
	if capacity < minCapacity {
		return nil, fmt.Errorf("pipe: capacity %d below minimum %d", capacity, minCapacity)
	}
	return &Pipe{
		buf:     make([]byte, capacity),
		readers: ksync.NewCounter(1),
		writers: ksync.NewCounter(1),
	}, nil
}

func (p *Pipe) RefReader() { p.readers.Inc() }
func (p *Pipe) RefWriter() { p.writers.Inc() }

// CloseReader drops one reference to the read end.
func (p *Pipe) CloseReader() {
	p.readers.Dec()
}

// CloseWriter drops one reference to the write end; once it reaches zero,
// pending and future reads observe EOF once buffered data is drained.
func (p *Pipe) CloseWriter() {
	p.writers.Dec()
}

func (p *Pipe) hasWriters() bool { return p.writers.Load() > 0 }
func (p *Pipe) hasReaders() bool { return p.readers.Load() > 0 }

// Write copies as much of data as fits in the remaining capacity, never
// blocking. It returns kernelerr.EPIPE if there are no readers left, and
// kernelerr.EAGAIN if the pipe is full. The write syscall hands EAGAIN back
// to user space unchanged: nothing blocks the calling thread or retries
// the write.
func (p *Pipe) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasReaders() {
		return 0, kernelerr.New(kernelerr.EPIPE)
	}

	free := len(p.buf) - p.size
	if free == 0 {
		return 0, kernelerr.New(kernelerr.EAGAIN)
	}

	n := len(data)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		p.buf[p.writePos] = data[i]
		p.writePos = (p.writePos + 1) % len(p.buf)
	}
	p.size += n
	return n, nil
}

// Read copies up to len(out) buffered bytes into out, never blocking. It
// returns (0, nil) for end-of-file once the pipe is empty and has no
// writers left, and kernelerr.EAGAIN if the pipe is empty but writers
// remain.
func (p *Pipe) Read(out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.size == 0 {
		if !p.hasWriters() {
			return 0, nil
		}
		return 0, kernelerr.New(kernelerr.EAGAIN)
	}

	n := len(out)
	if n > p.size {
		n = p.size
	}
	for i := 0; i < n; i++ {
		out[i] = p.buf[p.readPos]
		p.readPos = (p.readPos + 1) % len(p.buf)
	}
	p.size -= n
	return n, nil
}

func (p *Pipe) Capacity() int { return len(p.buf) }

func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}
