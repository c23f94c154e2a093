package pointledger

import "time"

// ExpiryDate returns the last instant of the calendar month a number of
// months after the issue date: issued 2024-01-15 with a six month horizon
// expires 2024-07-31T23:59:59Z. Month arithmetic is done on the first of the
// issue month so short target months clamp instead of spilling over.
func ExpiryDate(issuedAt time.Time, horizonMonths int) time.Time {
	issued := issuedAt.UTC()
	firstOfIssueMonth := time.Date(issued.Year(), issued.Month(), 1, 0, 0, 0, 0, time.UTC)
	firstOfTargetMonth := firstOfIssueMonth.AddDate(0, horizonMonths, 0)
	firstOfFollowingMonth := firstOfTargetMonth.AddDate(0, 1, 0)
	return firstOfFollowingMonth.Add(-time.Second)
}
