package retention

import "testing"

func TestRetentionDaysPerTier(t *testing.T) {
	cases := []struct {
		tier string
		want int
	}{
		{"starter", 30},
		{"pro", 90},
		{"business", 365},
		{"enterprise", 730},
		{"", 30},
		{"platinum", 30},
	}
	for _, tc := range cases {
		if got := RetentionDays(tc.tier); got != tc.want {
			t.Errorf("RetentionDays(%q) = %d, want %d", tc.tier, got, tc.want)
		}
	}
}
