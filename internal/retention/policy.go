// Package retention reclaims expired export artifacts per plan-tier
// retention windows and purges stale failed or canceled jobs.
package retention

// Retention windows in days per plan tier.
const (
	StarterDays    = 30
	ProDays        = 90
	BusinessDays   = 365
	EnterpriseDays = 730
)

// GraceDays is how long failed and canceled jobs are kept before their blobs
// are removed and the row is hard-deleted.
const GraceDays = 7

var tierDays = map[string]int{
	"starter":    StarterDays,
	"pro":        ProDays,
	"business":   BusinessDays,
	"enterprise": EnterpriseDays,
}

// RetentionDays resolves a plan tier to its retention window. Unknown tiers
// fall back to the starter window so a bad tier value never extends
// retention.
func RetentionDays(tier string) int {
	if days, ok := tierDays[tier]; ok {
		return days
	}
	return StarterDays
}
