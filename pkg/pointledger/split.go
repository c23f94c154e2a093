package pointledger

// splitGrant divides a gross grant between the primary and secondary
// categories. The primary share is floored and the secondary category
// receives the remainder, so primary + secondary == total for every total
// and every ratio inside (0, RatioScale).
//
// The quotient/remainder decomposition keeps the intermediate products
// within int64 for any positive total: the remainder factor stays below
// RatioScale squared and the quotient factor stays below the original total.
func splitGrant(totalPoints int64, primaryRatioBasisPoints int64) (int64, int64) {
	quotient := totalPoints / RatioScale
	remainder := totalPoints % RatioScale
	primary := quotient*primaryRatioBasisPoints + remainder*primaryRatioBasisPoints/RatioScale
	secondary := totalPoints - primary
	return primary, secondary
}
