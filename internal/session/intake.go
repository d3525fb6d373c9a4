package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/roundcast/backend/internal/logging"
	"github.com/roundcast/backend/internal/media"
	"github.com/roundcast/backend/internal/relay"
	"github.com/roundcast/backend/internal/sources"
)

// VideoInput is a raw video received from the platform.
type VideoInput struct {
	FileID   string
	Duration int
	Width    int
	Height   int
}

// acquireFunc produces a local copy of the new source, owned by the caller.
type acquireFunc func(ctx context.Context) (string, error)

// OnVideo starts a session from a raw video, or replaces the source of the
// session waiting for a replacement video.
func (m *Machine) OnVideo(ctx context.Context, userID int64, in VideoInput) (Result, error) {
	const op = "video"
	if strings.TrimSpace(in.FileID) == "" {
		return Result{}, invalidInput(op, "the video could not be read")
	}
	acquire := func(ctx context.Context) (string, error) {
		return m.sources.Open(ctx, sources.Handle(sources.SchemeTelegram, in.FileID))
	}
	return m.exclusive(ctx, op, userID, true, func(ctx context.Context) (Result, error) {
		res, err := m.ingest(ctx, op, userID, acquire)
		if err == nil && in.Duration > int(m.cfg.MaxDuration.Seconds()) {
			res.Text = fmt.Sprintf("The video was longer than %d seconds and has been trimmed.\n%s", int(m.cfg.MaxDuration.Seconds()), res.Text)
		}
		return res, err
	})
}

// OnVideoNoteNative starts a session from an existing platform video note,
// which is used as-is without cropping.
func (m *Machine) OnVideoNoteNative(ctx context.Context, userID int64, fileID string, duration, size int) (Result, error) {
	const op = "video_note"
	if strings.TrimSpace(fileID) == "" || size <= 0 {
		return Result{}, invalidInput(op, "the video note could not be read")
	}
	return m.exclusive(ctx, op, userID, true, func(ctx context.Context) (Result, error) {
		if duration > int(m.cfg.MaxDuration.Seconds()) {
			duration = int(m.cfg.MaxDuration.Seconds())
		}

		existing, ok := m.sessions.get(userID)
		if ok && existing.Step != StepAwaitingVideoReplace {
			return Result{}, newError(KindSessionConflict, op, "a session is already active", nil)
		}

		handle := sources.Handle(sources.SchemeTelegram, fileID)
		if ok {
			existing.SourceHandle = handle
			existing.Native = true
			existing.Size = size
			existing.Duration = duration
			return m.refreshDraft(ctx, existing)
		}

		receipt, err := m.relay.Publish(ctx, relay.Media{Handle: fileID, Duration: duration, Size: size})
		if err != nil {
			return Result{}, err
		}
		s := &Session{
			UserID:       userID,
			SourceHandle: handle,
			Native:       true,
			Size:         size,
			Duration:     duration,
			DraftHandle:  receipt.Handle,
			DraftMessage: receipt.MessageID,
			Step:         StepComposing,
			mediaDirty:   true,
		}
		m.sessions.put(s, m.now())
		logging.FromContext(ctx).Info("session started", "userId", userID, "source", "video_note")
		return m.composingResult(s, "Your video note is ready to edit."), nil
	})
}

// OnURL starts a session from a downloadable link.
func (m *Machine) OnURL(ctx context.Context, userID int64, rawURL string) (Result, error) {
	const op = "url"
	if _, err := sources.ValidateURL(rawURL); err != nil {
		return Result{}, classify(ctx, op, err)
	}
	return m.exclusive(ctx, op, userID, true, func(ctx context.Context) (Result, error) {
		return m.ingest(ctx, op, userID, m.download(rawURL))
	})
}

func (m *Machine) download(rawURL string) acquireFunc {
	return func(ctx context.Context) (string, error) {
		if m.fetcher == nil {
			return "", fmt.Errorf("%w: link downloads are disabled", sources.ErrFetch)
		}
		return m.fetcher.Download(ctx, rawURL)
	}
}

// ingest archives a new source and publishes its cropped draft. It starts a
// session, or replaces the source of one awaiting a new video.
func (m *Machine) ingest(ctx context.Context, op string, userID int64, acquire acquireFunc) (Result, error) {
	existing, ok := m.sessions.get(userID)
	if ok && existing.Step != StepAwaitingVideoReplace {
		return Result{}, newError(KindSessionConflict, op, "a session is already active", nil)
	}
	if !ok && m.limiter != nil && !m.limiter.Allow(strconv.FormatInt(userID, 10)) {
		return Result{}, invalidInput(op, "too many videos in a short time, please wait a moment")
	}

	var tmp media.TempFiles
	defer m.cleanup(ctx, &tmp)

	path, err := acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	tmp.Track(path)

	handle, err := m.sources.Keep(ctx, userID, path)
	if err != nil {
		return Result{}, err
	}

	if ok {
		existing.own(handle)
		previous, wasNative := existing.SourceHandle, existing.Native
		existing.SourceHandle = handle
		existing.Native = false
		res, err := m.refreshDraftWith(ctx, existing, &tmp)
		if err != nil {
			existing.SourceHandle, existing.Native = previous, wasNative
		}
		return res, err
	}

	s := &Session{
		UserID:       userID,
		SourceHandle: handle,
		Step:         StepComposing,
		mediaDirty:   true,
	}
	s.own(handle)

	out, err := m.engine.SquareCrop(ctx, path, m.cfg.MaxDuration)
	if err != nil {
		m.sources.Discard(ctx, handle)
		return Result{}, err
	}
	tmp.Track(out.Path)

	receipt, err := m.relay.Publish(ctx, relay.Media{Path: out.Path, Duration: out.Duration, Size: out.Size})
	if err != nil {
		m.sources.Discard(ctx, handle)
		return Result{}, err
	}

	s.Size = out.Size
	s.Duration = out.Duration
	s.DraftHandle = receipt.Handle
	s.DraftMessage = receipt.MessageID

	if err := ctx.Err(); err != nil {
		// The deadline passed while publishing; the session never becomes visible.
		m.teardown(context.WithoutCancel(ctx), s)
		return Result{}, err
	}
	m.sessions.put(s, m.now())

	logging.FromContext(ctx).Info("session started", "userId", userID, "source", op, "size", s.Size, "duration", s.Duration)
	return m.composingResult(s, "Your video note is ready to edit."), nil
}

func (m *Machine) composingResult(s *Session, text string) Result {
	res := Result{
		Text:          text,
		MediaHandle:   s.DraftHandle,
		Caption:       s.Caption,
		Menu:          m.composingMenu(),
		DeletePreview: s.PreviewMessage,
	}
	s.PreviewMessage = 0
	return res
}

func (m *Machine) cleanup(ctx context.Context, tmp *media.TempFiles) {
	if err := tmp.Cleanup(); err != nil {
		logging.FromContext(ctx).Warn("failed to remove temp files", "error", err)
	}
}
