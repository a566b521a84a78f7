package pricing

import "testing"

func TestPricePerVehicle(t *testing.T) {
	cases := []struct {
		vehicle  string
		distance float64
		want     float64
	}{
		{"BIKE", 10, 90},            // 20 + 10*7
		{"AUTO", 5, 85},             // 30 + 5*11
		{"CAR", 2.5, 95},            // 50 + 2.5*18
		{"ELECTRIC_BIKE", 0.5, 18},  // 15 + 0.5*6
		{"SCOOTER", 1, 33},          // 25 + 8
	}
	for _, c := range cases {
		if got := Price(c.distance, c.vehicle); got != c.want {
			t.Errorf("Price(%v, %s) = %v, want %v", c.distance, c.vehicle, got, c.want)
		}
	}
}

func TestPriceUnknownVehicleIsZero(t *testing.T) {
	if got := Price(10, "HELICOPTER"); got != 0 {
		t.Fatalf("expected 0 for unknown vehicle, got %v", got)
	}
	if Known("HELICOPTER") {
		t.Fatal("unexpected fare entry for HELICOPTER")
	}
}

func TestPriceNonPositiveDistanceIsZero(t *testing.T) {
	if got := Price(0, "CAR"); got != 0 {
		t.Fatalf("expected 0 for zero distance, got %v", got)
	}
	if got := Price(-1, "CAR"); got != 0 {
		t.Fatalf("expected 0 for negative distance, got %v", got)
	}
}

func TestPriceRounded(t *testing.T) {
	// 20 + 1.234*7 = 28.638 -> 28.64
	if got := Price(1.234, "BIKE"); got != 28.64 {
		t.Fatalf("expected 28.64, got %v", got)
	}
}
