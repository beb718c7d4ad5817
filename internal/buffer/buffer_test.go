package buffer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFrameReuseAndRelease(t *testing.T) {
	f := GetFrame()

	first := f.Encode(func(dst []byte) []byte { return append(dst, 1, 2, 3) })
	second := f.Encode(func(dst []byte) []byte {
		if len(dst) != 0 {
			t.Fatalf("Encode passed %d stale bytes", len(dst))
		}
		return append(dst, 9)
	})
	if !bytes.Equal(second, []byte{9}) || !bytes.Equal(f.Bytes(), []byte{9}) {
		t.Fatalf("unexpected contents %v", f.Bytes())
	}
	if &first[0] != &second[0] {
		t.Fatal("Encode did not reuse the pooled array")
	}

	f.Release()
	if f.Bytes() != nil {
		t.Fatal("frame still holds data after Release")
	}
	f.Release()

	// освобожденный кадр можно заполнить снова
	if got := f.Encode(func(dst []byte) []byte { return append(dst, 'x') }); string(got) != "x" {
		t.Fatalf("Encode after Release = %q", got)
	}
}

func TestFrameGrowsPastPoolCapacity(t *testing.T) {
	f := GetFrame()
	big := make([]byte, 2*maxPooledCap)
	out := f.Encode(func(dst []byte) []byte { return append(dst, big...) })
	if len(out) != len(big) {
		t.Fatalf("len = %d", len(out))
	}
	f.Release()
	if f.Bytes() != nil {
		t.Fatal("oversized frame not released")
	}
}

func TestOrderedWriterKeepsOrder(t *testing.T) {
	var out bytes.Buffer
	w := NewOrderedWriter(&out, nil, 64)

	var want []byte
	for i := 0; i < 100; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 1+i%37)
		want = append(want, chunk...)
		n, err := w.Write(chunk)
		if err != nil || n != len(chunk) {
			t.Fatalf("write %d: n=%d err=%v", i, n, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("output differs after flush")
	}
	if w.Written() != int64(len(want)) {
		t.Fatalf("Written() = %d, want %d", w.Written(), len(want))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := w.Write([]byte{1}); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("write after close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOrderedFileWriterCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	w, err := NewOrderedFileWriter(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	data := bytes.Repeat([]byte("raptor"), 1000)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("file holds %d bytes, want %d", len(got), len(data))
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestOrderedWriterReportsWorkerError(t *testing.T) {
	w := NewOrderedWriter(failingWriter{}, nil, 8)
	if _, err := w.Write([]byte("0123456789")); err != nil {
		t.Fatalf("write is buffered, got %v", err)
	}
	if err := w.Flush(); err == nil {
		t.Fatal("expected flush to report the worker error")
	}
	if err := w.Close(); err == nil {
		t.Fatal("expected close to report the worker error")
	}
}
