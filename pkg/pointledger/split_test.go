package pointledger

import (
	"math"
	"testing"
)

func TestSplitGrantDefaultRatio(test *testing.T) {
	test.Parallel()
	cases := []struct {
		total         int64
		wantPrimary   int64
		wantSecondary int64
	}{
		{total: 100, wantPrimary: 60, wantSecondary: 40},
		{total: 10, wantPrimary: 6, wantSecondary: 4},
		{total: 1, wantPrimary: 0, wantSecondary: 1},
		{total: 3, wantPrimary: 1, wantSecondary: 2},
		{total: 999, wantPrimary: 599, wantSecondary: 400},
	}
	for _, testCase := range cases {
		primary, secondary := splitGrant(testCase.total, defaultDigitalGiftRatioBP)
		if primary != testCase.wantPrimary || secondary != testCase.wantSecondary {
			test.Fatalf("split(%d): expected %d/%d, got %d/%d",
				testCase.total, testCase.wantPrimary, testCase.wantSecondary, primary, secondary)
		}
	}
}

func TestSplitGrantHugeTotalsStayExact(test *testing.T) {
	test.Parallel()
	// totals near MaxInt64 must not wrap through the intermediate product.
	cases := []struct {
		total       int64
		ratio       int64
		wantPrimary int64
	}{
		{total: math.MaxInt64, ratio: defaultDigitalGiftRatioBP, wantPrimary: 5534023222112865484},
		{total: math.MaxInt64, ratio: RatioScale - 1, wantPrimary: 9222449699651090329},
		{total: math.MaxInt64 - 1, ratio: 1, wantPrimary: 922337203685477},
	}
	for _, testCase := range cases {
		primary, secondary := splitGrant(testCase.total, testCase.ratio)
		if primary != testCase.wantPrimary {
			test.Fatalf("split(%d, %d): expected primary %d, got %d",
				testCase.total, testCase.ratio, testCase.wantPrimary, primary)
		}
		if primary+secondary != testCase.total {
			test.Fatalf("split(%d, %d): %d + %d != %d",
				testCase.total, testCase.ratio, primary, secondary, testCase.total)
		}
		if primary < 0 || secondary < 0 {
			test.Fatalf("split(%d, %d): negative share %d/%d",
				testCase.total, testCase.ratio, primary, secondary)
		}
	}
}

func TestSplitGrantNeverLosesPoints(test *testing.T) {
	test.Parallel()
	for ratio := int64(1); ratio < RatioScale; ratio += 37 {
		for total := int64(1); total <= 500; total++ {
			primary, secondary := splitGrant(total, ratio)
			if primary+secondary != total {
				test.Fatalf("split(%d, %d): %d + %d != %d", total, ratio, primary, secondary, total)
			}
			if primary < 0 || secondary < 0 {
				test.Fatalf("split(%d, %d): negative share %d/%d", total, ratio, primary, secondary)
			}
		}
	}
}
