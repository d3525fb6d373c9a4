package session

import (
	"sync"
	"time"

	"github.com/roundcast/backend/internal/metrics"
	"github.com/roundcast/backend/internal/models"
)

// Step is the position of a Session in the editing flow.
type Step string

const (
	StepComposing            Step = "composing"
	StepAwaitingText         Step = "awaiting_text"
	StepAwaitingCaption      Step = "awaiting_caption"
	StepAwaitingEffect       Step = "awaiting_effect"
	StepAwaitingVideoReplace Step = "awaiting_video"
	StepAwaitingAudioReplace Step = "awaiting_audio"
)

// Field names a modifiable property of a video note.
type Field string

const (
	FieldText    Field = "text"
	FieldCaption Field = "caption"
	FieldEffect  Field = "effect"
	FieldVideo   Field = "video"
	FieldAudio   Field = "audio"
)

var fieldSteps = map[Field]Step{
	FieldText:    StepAwaitingText,
	FieldCaption: StepAwaitingCaption,
	FieldEffect:  StepAwaitingEffect,
	FieldVideo:   StepAwaitingVideoReplace,
	FieldAudio:   StepAwaitingAudioReplace,
}

// ParseField maps callback data onto a Field.
func ParseField(raw string) (Field, bool) {
	f := Field(raw)
	_, ok := fieldSteps[f]
	return f, ok
}

// Session is one user's in-progress video note. It is only touched while the
// owner's lock is held.
type Session struct {
	UserID int64

	// ArtifactID is zero until the note is first applied; edits of a
	// committed artifact carry its id.
	ArtifactID int64

	SourceHandle string
	Native       bool
	Text         string
	Caption      string
	Effect       models.Effect
	Size         int
	Duration     int

	DraftHandle    string
	DraftMessage   int
	PreviewMessage int

	Step Step

	// mediaDirty is set when the published media no longer matches the fields.
	mediaDirty bool
	// ownedSources were archived during this session and are discarded unless committed.
	ownedSources []string
}

func (s *Session) own(handle string) {
	s.ownedSources = append(s.ownedSources, handle)
}

// registry holds the active sessions keyed by user id along with when each
// last saw activity. Activity times are only read or written under mu.
type registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	touched  map[int64]time.Time
}

func newRegistry() *registry {
	return &registry{sessions: make(map[int64]*Session), touched: make(map[int64]time.Time)}
}

func (r *registry) get(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

func (r *registry) put(s *Session, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.UserID]; !exists {
		metrics.ActiveSessions.Inc()
	}
	r.sessions[s.UserID] = s
	r.touched[s.UserID] = now
}

// touch records activity for userID if a session exists.
func (r *registry) touch(userID int64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[userID]; ok {
		r.touched[userID] = now
	}
}

func (r *registry) delete(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[userID]; exists {
		metrics.ActiveSessions.Dec()
		delete(r.sessions, userID)
		delete(r.touched, userID)
	}
}

// idle lists users whose session has seen no activity since before cutoff.
func (r *registry) idle(cutoff time.Time) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var users []int64
	for id := range r.sessions {
		if r.touched[id].Before(cutoff) {
			users = append(users, id)
		}
	}
	return users
}

// stale returns userID's session when it has been idle since before cutoff.
func (r *registry) stale(userID int64, cutoff time.Time) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok || !r.touched[userID].Before(cutoff) {
		return nil, false
	}
	return s, true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
