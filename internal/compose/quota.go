package compose

// MaxPercent is the upper bound a rule percentage is clamped to.
const MaxPercent = 100

// ClampPercent maps a stored percentage into [0, 100]. A nil percentage
// counts as 0.
func ClampPercent(p *int) int {
	if p == nil {
		return 0
	}
	return max(0, min(MaxPercent, *p))
}

// FullQuota is how many of n candidates a rule may contribute to a full
// feed. A nil percentage takes every candidate.
func FullQuota(p *int, n int) int {
	if n <= 0 {
		return 0
	}
	if p == nil {
		return n
	}
	return n * ClampPercent(p) / MaxPercent
}

// PagedQuota is a rule's share of targetCount, the number of posts needed
// to fill every page up to and including the requested one.
func PagedQuota(p *int, targetCount int) int {
	if targetCount <= 0 {
		return 0
	}
	pct := ClampPercent(p)
	// Split to keep deep pages from overflowing; the result is still
	// floor(targetCount*pct/100).
	return targetCount/MaxPercent*pct + targetCount%MaxPercent*pct/MaxPercent
}
