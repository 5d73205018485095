package session

import "time"

// DefaultDeviceID is the device identifier used when a caller supplies none and
// when a legacy record carries a blank device id.
const DefaultDeviceID = "default"

// Record is one active refresh-token session: a single device pairing owned by
// a user. All timestamps are epoch milliseconds.
//
// The JSON layout is shared with the fast store and with records written by
// the previous backend, so field names must not change.
type Record struct {
	Token      string `json:"token"`
	UserID     int64  `json:"userId"`
	DeviceID   string `json:"deviceId"`
	DeviceInfo string `json:"deviceInfo"`
	IPAddress  string `json:"ipAddress"`
	IssuedAt   int64  `json:"issuedAt"`
	ExpiresAt  int64  `json:"expiresAt"`
	LastUsedAt int64  `json:"lastUsedAt"`

	// Revoked is only meaningful on the durable side. Fast records are
	// deleted instead of flagged.
	Revoked bool `json:"-"`
}

// Expired reports whether the record is at or past its expiry instant.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt <= now.UnixMilli()
}

// RemainingTTL returns the time left until ExpiresAt, or zero when expired.
func (r *Record) RemainingTTL(now time.Time) time.Duration {
	left := r.ExpiresAt - now.UnixMilli()
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}

// LastUsed returns LastUsedAt as a time.Time.
func (r *Record) LastUsed() time.Time {
	return time.UnixMilli(NormalizeEpochMillis(r.LastUsedAt))
}

// Clone returns a copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
