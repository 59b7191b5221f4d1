package supervisor

import (
	"testing"
	"time"
)

func TestJitterWithinBounds(t *testing.T) {
	period := 10 * time.Second
	frac := 0.10
	lower := time.Duration(float64(period) * (1 - frac))
	upper := time.Duration(float64(period) * (1 + frac))

	for i := 0; i < 1000; i++ {
		got := jitter(period, frac)
		if got < lower || got > upper {
			t.Fatalf("jitter(%v, %v) = %v, want within [%v, %v]", period, frac, got, lower, upper)
		}
	}
}

func TestJitterZeroFractionReturnsPeriodUnchanged(t *testing.T) {
	period := 30 * time.Second
	if got := jitter(period, 0); got != period {
		t.Fatalf("jitter with zero fraction = %v, want %v unchanged", got, period)
	}
}
