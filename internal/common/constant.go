package common

import "time"

const (
	// MaxFileSizeBytes is the largest attachment accepted for upload (20 MiB).
	MaxFileSizeBytes = 20 * 1024 * 1024

	// MaxFailedAttempts is the number of wrong access keys that triggers a lockout.
	MaxFailedAttempts = 3

	// LockoutDuration is how long a (session, user) pair stays locked.
	LockoutDuration = 15 * time.Minute

	// BytesPerMB converts byte counts to the MB figures stored on sessions and uploads.
	BytesPerMB = 1024 * 1024
)
