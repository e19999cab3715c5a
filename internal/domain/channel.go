package domain

import "time"

// Channel is a premium channel whose join requests are gated by subscription.
type Channel struct {
	ChatID  int64     `bson:"chat_id" json:"chat_id"`
	Title   string    `bson:"title" json:"title"`
	AddedBy int64     `bson:"added_by" json:"added_by"`
	AddedAt time.Time `bson:"added_at" json:"added_at"`
}
