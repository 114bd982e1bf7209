package contenthash

import "testing"

func TestHex(t *testing.T) {
	got := Hex([]byte("hello"))
	if len(got) != 64 {
		t.Fatalf("hash length = %d, want 64", len(got))
	}
	if got != Hex([]byte("hello")) {
		t.Error("hash not deterministic")
	}
	if got == Hex([]byte("hello!")) {
		t.Error("distinct inputs collided")
	}
}
