package registry

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/DamOTclese/chatbetween/pkg/chatwire"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, string) {
	t.Helper()
	dir := t.TempDir()
	clk := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	r := New(Options{
		Dir:             dir,
		WriteRetryDelay: time.Millisecond,
		Now:             clk.Now,
	})
	return r, clk, dir
}

func sendHeader(name string, size uint32) chatwire.TransferHeader {
	return chatwire.TransferHeader{Name: name, Size: size, Kind: chatwire.KindSend}
}

func TestReceiveReconstructsFileExactly(t *testing.T) {
	r, _, dir := newTestRegistry(t)

	content := bytes.Repeat([]byte("the quick brown fox "), 137)
	r.StartReceive(sendHeader("fox.txt", uint32(len(content))), "10.0.0.7", nil)

	for off := 0; off < len(content); off += 64 {
		end := off + 64
		if end > len(content) {
			end = len(content)
		}
		if !r.AppendBlock("10.0.0.7", content[off:end]) {
			t.Fatalf("block at offset %d rejected", off)
		}
	}

	if r.Len() != 0 {
		t.Fatalf("transfer should be complete, %d blocks remain", r.Len())
	}
	got, err := os.ReadFile(filepath.Join(dir, "fox.txt"))
	if err != nil {
		t.Fatalf("read reconstructed file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("reconstructed %d bytes, want %d identical bytes", len(got), len(content))
	}
}

func TestZeroSizeSendIsIgnored(t *testing.T) {
	r, _, dir := newTestRegistry(t)

	r.StartReceive(sendHeader("empty.bin", 0), "10.0.0.7", nil)
	if r.Len() != 0 {
		t.Fatal("zero-size send must not create transfer state")
	}
	if _, err := os.Stat(filepath.Join(dir, "empty.bin")); err == nil {
		t.Fatal("zero-size send must not create a file")
	}
}

func TestOneBlockPerPeer(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	r.StartReceive(sendHeader("a.bin", 100), "10.0.0.1", nil)
	r.StartReceive(sendHeader("b.bin", 100), "10.0.0.2", nil)
	r.StartReceive(sendHeader("c.bin", 100), "10.0.0.3", nil)

	if r.Len() != 3 {
		t.Fatalf("expected 3 blocks, got %d", r.Len())
	}
	for _, peer := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		blk, ok := r.Find(peer)
		if !ok {
			t.Fatalf("no block for %s", peer)
		}
		if blk.Peer != peer {
			t.Fatalf("block keyed by %s belongs to %s", peer, blk.Peer)
		}
	}
	if _, ok := r.Find("10.0.0.9"); ok {
		t.Fatal("found a block for a peer that never sent a header")
	}
}

func TestSupersedingHeaderAbortsOldBlock(t *testing.T) {
	r, _, dir := newTestRegistry(t)

	r.StartReceive(sendHeader("data.bin", 1000), "10.0.0.7", nil)
	r.AppendBlock("10.0.0.7", []byte("partial first attempt"))

	r.StartReceive(sendHeader("data.bin", 8), "10.0.0.7", nil)
	if r.Len() != 1 {
		t.Fatalf("registry must hold exactly one block per peer, got %d", r.Len())
	}

	blk, ok := r.Find("10.0.0.7")
	if !ok {
		t.Fatal("fresh block missing after supersession")
	}
	if blk.Remaining != 8 {
		t.Fatalf("fresh block remaining = %d, want 8", blk.Remaining)
	}
	// The first attempt landed in data.bin; the fresh transfer probes to
	// the next free name.
	if blk.Destination != "data.bin1" {
		t.Fatalf("fresh destination = %q, want data.bin1", blk.Destination)
	}

	r.AppendBlock("10.0.0.7", []byte("complete"))
	got, err := os.ReadFile(filepath.Join(dir, "data.bin1"))
	if err != nil {
		t.Fatalf("read fresh file: %v", err)
	}
	if string(got) != "complete" {
		t.Fatalf("fresh file content %q", got)
	}
}

func TestSweepReclaimsIdleTransfers(t *testing.T) {
	r, clk, _ := newTestRegistry(t)

	r.StartReceive(sendHeader("slow.bin", 100), "10.0.0.7", nil)
	r.StartReceive(sendHeader("live.bin", 100), "10.0.0.8", nil)

	if n := r.SweepTimeouts(); n != 0 {
		t.Fatalf("nothing should time out immediately, got %d", n)
	}

	clk.Advance(9 * time.Second)
	r.AppendBlock("10.0.0.8", []byte("still going"))

	clk.Advance(time.Second)
	if n := r.SweepTimeouts(); n != 1 {
		t.Fatalf("expected exactly the idle transfer to time out, got %d", n)
	}
	if _, ok := r.Find("10.0.0.7"); ok {
		t.Fatal("timed-out block still present")
	}
	if _, ok := r.Find("10.0.0.8"); !ok {
		t.Fatal("refreshed block must survive the sweep")
	}

	if r.AppendBlock("10.0.0.7", []byte("late data")) {
		t.Fatal("data after timeout must be rejected")
	}
}

func TestSweepOnEmptyRegistry(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if n := r.SweepTimeouts(); n != 0 {
		t.Fatalf("empty sweep returned %d", n)
	}
}

func TestNameCollisionProbing(t *testing.T) {
	r, _, dir := newTestRegistry(t)

	if err := os.WriteFile(filepath.Join(dir, "dup.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	r.StartReceive(sendHeader("dup.txt", 5), "10.0.0.7", []byte("hello"))

	got, err := os.ReadFile(filepath.Join(dir, "dup.txt1"))
	if err != nil {
		t.Fatalf("expected numbered variant dup.txt1: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("variant content %q", got)
	}
}

func TestExhaustedNameProbeDropsTransfer(t *testing.T) {
	r, _, dir := newTestRegistry(t)

	// Occupy the original name and variants 1..19, exhausting the probe.
	if err := os.WriteFile(filepath.Join(dir, "full.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < DefaultNameProbeLimit; i++ {
		name := "full.txt" + strconv.Itoa(i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := os.ReadDir(dir)

	r.StartReceive(sendHeader("full.txt", 100), "10.0.0.7", []byte("data"))

	if r.Len() != 0 {
		t.Fatal("dropped transfer must not leave a control block")
	}
	after, _ := os.ReadDir(dir)
	if len(after) != len(before) {
		t.Fatalf("dropped transfer created files: %d -> %d", len(before), len(after))
	}
}

func TestHeaderTrailingBytesBecomeFirstBlock(t *testing.T) {
	r, _, dir := newTestRegistry(t)

	trailing := []byte("first slice of the file")
	r.StartReceive(sendHeader("tail.bin", uint32(len(trailing))+10), "10.0.0.7", trailing)

	blk, ok := r.Find("10.0.0.7")
	if !ok {
		t.Fatal("no block after header with trailing bytes")
	}
	if blk.Remaining != 10 {
		t.Fatalf("remaining = %d, want 10", blk.Remaining)
	}

	r.AppendBlock("10.0.0.7", []byte("0123456789"))
	got, err := os.ReadFile(filepath.Join(dir, "tail.bin"))
	if err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte{}, trailing...), []byte("0123456789")...)
	if !bytes.Equal(got, want) {
		t.Fatalf("file content %q, want %q", got, want)
	}
}

func TestAppendRejectsUnknownPeer(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if r.AppendBlock("10.9.9.9", []byte("chat text, not file data")) {
		t.Fatal("append for unknown peer must report false")
	}
}

func TestOversizeBlockClampsAndCompletes(t *testing.T) {
	r, _, dir := newTestRegistry(t)

	r.StartReceive(sendHeader("clamp.bin", 4), "10.0.0.7", nil)
	r.AppendBlock("10.0.0.7", []byte("more than four"))

	if r.Len() != 0 {
		t.Fatal("oversize final block must complete the transfer")
	}
	if _, err := os.Stat(filepath.Join(dir, "clamp.bin")); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
}
