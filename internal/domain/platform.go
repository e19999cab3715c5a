package domain

// ChatInfo is the part of a platform chat lookup the bot relies on.
type ChatInfo struct {
	ID    int64
	Title string
}
