package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestReadSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.264")
	want := bytes.Repeat([]byte{0x00, 0x00, 0x01, 0x67}, 500)
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSource(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("content differs")
	}
}

func TestReadSourceMissing(t *testing.T) {
	if _, err := ReadSource(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTransferStatsFinishAndPrint(t *testing.T) {
	s := TransferStats{StartTime: time.Now().Add(-2 * time.Second), Bytes: 4096, Packets: 40}
	s.Finish()
	if s.Duration < 2*time.Second {
		t.Fatalf("duration = %v", s.Duration)
	}
	if s.Speed <= 0 || s.Speed > 3 {
		t.Fatalf("speed = %f", s.Speed)
	}
	var buf bytes.Buffer
	s.Print(&buf, "RX")
	if !strings.Contains(buf.String(), "[RX] Packets: 40") {
		t.Fatalf("unexpected report: %q", buf.String())
	}
}
