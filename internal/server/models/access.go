package models

import "time"

// AccessLock counts failed access key attempts of one user on one session.
// SessionID is the external session code, not the row id.
type AccessLock struct {
	ID             string     `db:"id"`
	SessionID      string     `db:"session_id"`
	UserID         int64      `db:"user_id"`
	FailedAttempts int        `db:"failed_attempts"`
	LockedUntil    *time.Time `db:"locked_until"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

type AdminCredential struct {
	ID                 string    `db:"id"`
	UserID             int64     `db:"user_id"`
	EncryptedMasterKey string    `db:"encrypted_master_key"`
	CreatedAt          time.Time `db:"created_at"`
}

// LockStatus is the outcome of a lock check.
type LockStatus struct {
	Locked            bool
	RemainingMinutes  int
	FailedAttempts    int
	RemainingAttempts int
}
