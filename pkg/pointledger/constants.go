package pointledger

import "time"

const (
	operationGrant       = "grant"
	operationConsume     = "consume"
	operationExpireSweep = "expire_sweep"
	operationAdjust      = "adjust"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// RatioScale is the fixed-point denominator for category split ratios.
	// A ratio of 0.60 is stored as 6000 basis points.
	RatioScale = 10000

	defaultDigitalGiftRatioBP      = 6000
	defaultCorporateProductRatioBP = 4000

	defaultDigitalGiftDescription      = "digital gift points"
	defaultCorporateProductDescription = "corporate product points"

	// Lots expire at the end of the calendar month this many months after issue.
	defaultExpiryHorizonMonths = 6

	defaultLockTimeout = 3 * time.Second
)
