package models

import "time"

// MaxNoteDuration is the longest clip the platform accepts as a video note.
const MaxNoteDuration = 60 * time.Second

// User represents a chat platform account that has interacted with the bot.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	RegisteredAt time.Time
}

// Artifact is a composed, published video note owned by a user.
type Artifact struct {
	ID            int64
	OwnerID       int64
	ContentHandle string
	RelayMessage  int
	SourceHandle  string
	Text          string
	Caption       string
	Effect        Effect
	Duration      int
	Width         int
	Height        int
	CreatedAt     time.Time
}

// Size returns the edge length of the (square) artifact.
func (a Artifact) Size() int {
	if a.Width < a.Height {
		return a.Width
	}
	return a.Height
}

// Template is a saved content handle that can be replayed without reprocessing.
type Template struct {
	ID            int64
	OwnerID       int64
	ContentHandle string
	CreatedAt     time.Time
}
