package identity

import "testing"

func TestSourceID_Stable(t *testing.T) {
	a := SourceID("Brake Pads", "Bosch", "BP-100")
	b := SourceID("Brake Pads", "Bosch", "BP-100")
	if a != b {
		t.Fatalf("expected stable hash, got %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%s)", len(a), a)
	}
}

func TestSourceID_FormattingInsensitive(t *testing.T) {
	a := SourceID("Brake  Pads ", "BOSCH", "bp-100")
	b := SourceID("brake pads", "Bosch", "BP-100")
	if a != b {
		t.Fatalf("expected normalization to converge, got %s vs %s", a, b)
	}
}

func TestSourceID_DistinctParts(t *testing.T) {
	a := SourceID("Brake Pads", "Bosch", "BP-100")
	b := SourceID("Brake Rotors", "Bosch", "BR-200")
	if a == b {
		t.Fatalf("different parts must not collide: %s", a)
	}
}
