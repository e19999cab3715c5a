package domain

import "time"

// Subscription grants premium channel access until ExpiryDate. Records are
// provisioned outside the bot; the bot only reads and expires them.
type Subscription struct {
	UserID     int64     `bson:"user_id" json:"user_id"`
	ExpiryDate time.Time `bson:"expiry_date" json:"expiry_date"`
}

// ActiveAt reports whether the subscription is still valid at now. A
// subscription expiring exactly at now is active.
func (s Subscription) ActiveAt(now time.Time) bool {
	return !s.ExpiryDate.Before(now)
}
