package session

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrRecordCorrupt is returned when a fast-store payload cannot be decoded
// into a usable [Record].
var ErrRecordCorrupt = errors.New("refresh record corrupt")

// legacySecondsCeiling is the magnitude below which a raw epoch value is
// interpreted as seconds rather than milliseconds.
const legacySecondsCeiling int64 = 10_000_000_000

// NormalizeEpochMillis converts a raw epoch value that may be in seconds
// (legacy producers) or milliseconds into milliseconds.
func NormalizeEpochMillis(v int64) int64 {
	if v > 0 && v < legacySecondsCeiling {
		return v * 1000
	}
	return v
}

// Encode serializes r into the fast-store JSON layout.
func Encode(r *Record) ([]byte, error) {
	if r == nil || r.Token == "" {
		return nil, ErrRecordCorrupt
	}
	return json.Marshal(r)
}

// Decode parses a fast-store payload. Timestamps are normalized to
// milliseconds and a blank device id is replaced with [DefaultDeviceID].
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Join(ErrRecordCorrupt, err)
	}
	if r.Token == "" {
		return nil, ErrRecordCorrupt
	}
	normalizeRecord(&r)
	return &r, nil
}

func normalizeRecord(r *Record) {
	r.IssuedAt = NormalizeEpochMillis(r.IssuedAt)
	r.ExpiresAt = NormalizeEpochMillis(r.ExpiresAt)
	r.LastUsedAt = NormalizeEpochMillis(r.LastUsedAt)
	if strings.TrimSpace(r.DeviceID) == "" {
		r.DeviceID = DefaultDeviceID
	}
}
