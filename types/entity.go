package types

import "time"

// Entity carries the creation and last-mutation timestamps of a stored
// record. Embed it in domain types.
type Entity struct {
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewEntity stamps both timestamps with now.
func NewEntity(now time.Time) Entity {
	now = Stamp(now)
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch moves UpdatedAt to now.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = Stamp(now)
}

// Stamp normalizes a time for storage: UTC with the monotonic reading
// stripped. Stores persist times as unix nanoseconds, so a stamped value
// round-trips exactly.
func Stamp(t time.Time) time.Time {
	return t.Round(0).UTC()
}

// FromUnixNano is the inverse of UnixNano for stored timestamps. Zero maps
// to the zero time.
func FromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// UnixNano returns t as unix nanoseconds, or zero for the zero time.
func UnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
