package vfs_test

import (
	"testing"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/pipe"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs"
)

func TestPipeFileReadWriteRoundTrip(t *testing.T) {
	p, err := pipe.New(1024)
	if err != nil {
		t.Fatalf("pipe.New: %v", err)
	}
	r := vfs.NewPipeFile(p, true)
	w := vfs.NewPipeFile(p, false)

	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 5)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hello")
	}
}

func TestPipeFileWrongDirectionIsEBADF(t *testing.T) {
	p, err := pipe.New(1024)
	if err != nil {
		t.Fatalf("pipe.New: %v", err)
	}
	r := vfs.NewPipeFile(p, true)
	w := vfs.NewPipeFile(p, false)

	if _, err := r.Write([]byte("x")); err == nil {
		t.Fatalf("expected writing to the read end to fail")
	}
	if _, err := w.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected reading from the write end to fail")
	}
}

func TestPipeFileSeekIsUnsupported(t *testing.T) {
	p, err := pipe.New(1024)
	if err != nil {
		t.Fatalf("pipe.New: %v", err)
	}
	r := vfs.NewPipeFile(p, true)
	if _, err := r.Seek(0, 0); !kernelerrIsInval(err) {
		t.Fatalf("Seek on a pipe = %v, want EINVAL", err)
	}
}

func TestPipeFileStatReportsFIFOKindAndBufferedBytes(t *testing.T) {
	p, err := pipe.New(1024)
	if err != nil {
		t.Fatalf("pipe.New: %v", err)
	}
	r := vfs.NewPipeFile(p, true)
	w := vfs.NewPipeFile(p, false)
	w.Write([]byte("abc"))

	st, err := r.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Kind != vfs.KindFIFO {
		t.Fatalf("Kind = %v, want KindFIFO", st.Kind)
	}
	if st.Size != 3 {
		t.Fatalf("Size = %d, want 3", st.Size)
	}
}

func kernelerrIsInval(err error) bool {
	return err != nil && kernelerr.CodeOf(err) == kernelerr.EINVAL
}
