package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roundcast/backend/internal/logging"
	"github.com/roundcast/backend/internal/media"
	"github.com/roundcast/backend/internal/metrics"
	"github.com/roundcast/backend/internal/models"
	"github.com/roundcast/backend/internal/relay"
	"github.com/roundcast/backend/internal/repositories"
)

// Transformer is the media engine surface used by the machine. *media.Engine satisfies it.
type Transformer interface {
	SquareCrop(ctx context.Context, path string, maxDuration time.Duration) (media.Output, error)
	OverlayText(ctx context.Context, path, text string) (media.Output, error)
	ApplyEffect(ctx context.Context, path string, effect models.Effect) (media.Output, error)
	ReplaceAudio(ctx context.Context, videoPath, audioPath string) (media.Output, error)
}

// Publisher mints and retracts relay messages. *relay.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, m relay.Media) (relay.Receipt, error)
	Retract(ctx context.Context, messageID int)
	Preview(ctx context.Context, key relay.PreviewKey, render relay.RenderFunc) (string, error)
}

// Sources resolves and archives source footage. *sources.Resolver satisfies it.
type Sources interface {
	Open(ctx context.Context, handle string) (string, error)
	Keep(ctx context.Context, ownerID int64, path string) (string, error)
	Discard(ctx context.Context, handle string)
}

// Fetcher downloads videos from URLs. *sources.Fetcher satisfies it.
type Fetcher interface {
	Download(ctx context.Context, rawURL string) (string, error)
}

// Limiter throttles intake per user.
type Limiter interface {
	Allow(key string) bool
}

// Features switches optional parts of the flow.
type Features struct {
	Caption      bool
	Effects      bool
	Templates    bool
	AudioReplace bool
}

// Config tunes the machine.
type Config struct {
	MaxDuration       time.Duration
	ProcessingTimeout time.Duration
	SessionTTL        time.Duration
	ListLimit         int
	MaxTextLength     int
	MaxCaptionLength  int
	StockClips        []string
	Features          Features
}

// Deps are the machine's collaborators.
type Deps struct {
	Store   repositories.ContentStore
	Engine  Transformer
	Relay   Publisher
	Sources Sources
	Fetcher Fetcher
	Limiter Limiter
	Logger  *slog.Logger
}

// Machine runs the per-user edit/publish flow. All methods are safe for
// concurrent use; events for one user are serialised.
type Machine struct {
	store   repositories.ContentStore
	engine  Transformer
	relay   Publisher
	sources Sources
	fetcher Fetcher
	limiter Limiter
	logger  *slog.Logger

	cfg      Config
	locks    *Locker
	sessions *registry
	now      func() time.Time
}

// New constructs a Machine.
func New(deps Deps, cfg Config) *Machine {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = models.MaxNoteDuration
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 45 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 20
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 200
	}
	if cfg.MaxCaptionLength <= 0 {
		cfg.MaxCaptionLength = 1024
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:    deps.Store,
		engine:   deps.Engine,
		relay:    deps.Relay,
		sources:  deps.Sources,
		fetcher:  deps.Fetcher,
		limiter:  deps.Limiter,
		logger:   logger,
		cfg:      cfg,
		locks:    NewLocker(),
		sessions: newRegistry(),
		now:      time.Now,
	}
}

// Active reports whether userID has a session in progress, and its step. It
// waits for any event the user has in flight.
func (m *Machine) Active(userID int64) (Step, bool) {
	if err := m.locks.Lock(context.Background(), userID); err != nil {
		return "", false
	}
	defer m.locks.Unlock(userID)

	s, ok := m.sessions.get(userID)
	if !ok {
		return "", false
	}
	return s.Step, true
}

// handler runs under the user's lock with the processing deadline applied.
type handler func(ctx context.Context) (Result, error)

// exclusive serialises fn with the user's other events. With try set a busy
// user is rejected instead of waited for.
func (m *Machine) exclusive(ctx context.Context, event string, userID int64, try bool, fn handler) (Result, error) {
	if try {
		if !m.locks.TryLock(userID) {
			err := newError(KindSessionConflict, event, "another event is in progress", nil)
			m.observe(ctx, event, userID, err)
			return Result{}, err
		}
	} else if err := m.locks.Lock(ctx, userID); err != nil {
		typed := classify(ctx, event, err)
		m.observe(ctx, event, userID, typed)
		return Result{}, typed
	}
	defer m.locks.Unlock(userID)

	res, err := m.bounded(ctx, event, userID, fn)
	if err != nil && errors.Is(err, ErrProcessingTimeout) {
		if s, ok := m.sessions.get(userID); ok {
			m.teardown(context.WithoutCancel(ctx), s)
			logging.FromContext(ctx).Warn("session discarded after timeout", "userId", userID, "event", event)
		}
	}
	m.observe(ctx, event, userID, err)
	return res, err
}

// shared runs a read-only fn without taking the user's lock.
func (m *Machine) shared(ctx context.Context, event string, userID int64, fn handler) (Result, error) {
	res, err := m.bounded(ctx, event, userID, fn)
	m.observe(ctx, event, userID, err)
	return res, err
}

// bounded runs fn with the processing deadline and converts failures to *Error.
func (m *Machine) bounded(ctx context.Context, event string, userID int64, fn handler) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProcessingTimeout)
	defer cancel()

	res, err := fn(ctx)
	if err != nil {
		return Result{}, classify(ctx, event, err)
	}
	m.sessions.touch(userID, m.now())
	return res, nil
}

func (m *Machine) observe(ctx context.Context, event string, userID int64, err error) {
	logger := logging.FromContext(ctx)
	if err == nil {
		metrics.SessionEventsTotal.WithLabelValues(event, "ok").Inc()
		logger.Debug("session event handled", "event", event, "userId", userID)
		return
	}
	kind := "error"
	var typed *Error
	if errors.As(err, &typed) {
		kind = string(typed.Kind)
	}
	metrics.SessionEventsTotal.WithLabelValues(event, kind).Inc()
	switch kind {
	case string(KindInvalidInput), string(KindSessionConflict), string(KindNotFound):
		logger.Info("session event rejected", "event", event, "userId", userID, "error", err)
	default:
		logger.Error("session event failed", "event", event, "userId", userID, "error", err)
	}
}

// teardown retracts the draft, discards sources archived by the session and forgets it.
func (m *Machine) teardown(ctx context.Context, s *Session) {
	if s.DraftMessage != 0 {
		m.relay.Retract(ctx, s.DraftMessage)
	}
	for _, handle := range s.ownedSources {
		m.sources.Discard(ctx, handle)
	}
	m.sessions.delete(s.UserID)
}

// composingMenu lists the fields the user may change under the enabled features.
func (m *Machine) composingMenu() Menu {
	return Menu{Kind: MenuComposing, Fields: m.fields(true)}
}

func (m *Machine) artifactMenu(id int64) Menu {
	return Menu{Kind: MenuArtifact, ArtifactID: id, Fields: m.fields(false), Templates: m.cfg.Features.Templates}
}

func (m *Machine) fields(composing bool) []Field {
	fields := []Field{FieldText}
	if m.cfg.Features.Caption {
		fields = append(fields, FieldCaption)
	}
	if m.cfg.Features.Effects {
		fields = append(fields, FieldEffect)
	}
	if composing {
		fields = append(fields, FieldVideo)
		if m.cfg.Features.AudioReplace {
			fields = append(fields, FieldAudio)
		}
	}
	return fields
}

func (m *Machine) enabled(f Field) bool {
	switch f {
	case FieldCaption:
		return m.cfg.Features.Caption
	case FieldEffect:
		return m.cfg.Features.Effects
	case FieldAudio:
		return m.cfg.Features.AudioReplace
	}
	return true
}
