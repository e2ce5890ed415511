package buffer

import "testing"

func TestGrowingAppendAndAdvance(t *testing.T) {
	g := New(4)
	g.Append([]byte("hello"))
	if g.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", g.Len())
	}
	g.Advance(2)
	if got := string(g.Bytes()); got != "llo" {
		t.Fatalf("Bytes() = %q, want %q", got, "llo")
	}
}

func TestGrowingGeometricGrowth(t *testing.T) {
	g := New(2)
	for i := 0; i < 100; i++ {
		g.Append([]byte{byte(i)})
	}
	if g.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", g.Len())
	}
	for i := 0; i < 100; i++ {
		if g.Bytes()[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, g.Bytes()[i], i)
		}
	}
}

func TestGrowingCompact(t *testing.T) {
	g := New(16)
	g.Append([]byte("abcdef"))
	g.Advance(3)
	g.Compact()
	if got := string(g.Bytes()); got != "def" {
		t.Fatalf("Bytes() after Compact = %q, want %q", got, "def")
	}
	g.Append([]byte("gh"))
	if got := string(g.Bytes()); got != "defgh" {
		t.Fatalf("Bytes() = %q, want %q", got, "defgh")
	}
}

func TestGrowingIndexCRLF(t *testing.T) {
	g := New(16)
	g.Append([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	idx := g.IndexCRLF()
	if idx != 14 {
		t.Fatalf("IndexCRLF() = %d, want 14", idx)
	}
	g.Advance(idx + 2)
	idx = g.IndexCRLF()
	if idx != 7 {
		t.Fatalf("IndexCRLF() after advance = %d, want 7", idx)
	}
}

func TestGrowingIndexCRLFNotFound(t *testing.T) {
	g := New(16)
	g.Append([]byte("no terminator here"))
	if idx := g.IndexCRLF(); idx != -1 {
		t.Fatalf("IndexCRLF() = %d, want -1", idx)
	}
}

func TestGrowingReset(t *testing.T) {
	g := New(16)
	g.Append([]byte("data"))
	g.Reset()
	if g.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", g.Len())
	}
}
