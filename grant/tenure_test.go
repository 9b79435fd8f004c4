package grant_test

import (
	"testing"

	"github.com/warp/leave-engine/grant"
)

func TestTenureEntitlement_SteppedTable(t *testing.T) {
	// The full statutory table, verbatim: 15 at 1 year, +1 every 2 years,
	// capped at 25 from 21 years on.
	expected := map[int]int{
		1: 15, 2: 15,
		3: 16, 4: 16,
		5: 17, 6: 17,
		7: 18, 8: 18,
		9: 19, 10: 19,
		11: 20, 12: 20,
		13: 21, 14: 21,
		15: 22, 16: 22,
		17: 23, 18: 23,
		19: 24, 20: 24,
		21: 25,
	}

	for years, want := range expected {
		got := grant.TenureEntitlement(years)
		if !got.Equal(grant.DaysFromInt(want)) {
			t.Errorf("TenureEntitlement(%d) = %s, want %d", years, got, want)
		}
	}
}

func TestTenureEntitlement_CapBeyondTwentyOne(t *testing.T) {
	cap := grant.TenureEntitlement(21)
	for _, years := range []int{22, 25, 30, 40, 100} {
		got := grant.TenureEntitlement(years)
		if !got.Equal(cap) {
			t.Errorf("TenureEntitlement(%d) = %s, want cap %s", years, got, cap)
		}
	}
}

func TestTenureEntitlement_SubYearIsZero(t *testing.T) {
	for _, years := range []int{0, -1} {
		if got := grant.TenureEntitlement(years); !got.IsZero() {
			t.Errorf("TenureEntitlement(%d) = %s, want 0", years, got)
		}
	}
}
