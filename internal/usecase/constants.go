package usecase

import "time"

const (
	// DefaultMaxAttempts bounds the commit attempts for one event
	DefaultMaxAttempts = 5

	// DefaultRetryInitialInterval is the first backoff after a conflict
	DefaultRetryInitialInterval = 20 * time.Millisecond

	// DefaultRetryMaxInterval caps the backoff between attempts
	DefaultRetryMaxInterval = 1 * time.Second

	// DefaultClockSkew is how far in the future occurredAt may be
	DefaultClockSkew = 5 * time.Minute

	// DefaultRepublishBatchSize is how many unpublished outcomes one sweep handles
	DefaultRepublishBatchSize = 100

	// retryRandomizationFactor spreads retries of contending events apart
	retryRandomizationFactor = 0.5
)
