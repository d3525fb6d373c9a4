package session

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roundcast/backend/internal/media"
	"github.com/roundcast/backend/internal/models"
	"github.com/roundcast/backend/internal/relay"
	"github.com/roundcast/backend/internal/repositories"
	"github.com/roundcast/backend/internal/sources"
)

const skipKeyword = "skip"

var prompts = map[Field]string{
	FieldText:    "Send the text to put on the video note, or skip to remove it.",
	FieldCaption: "Send the caption, or skip to remove it.",
	FieldEffect:  "Pick an effect, or skip to remove it.",
	FieldVideo:   "Send the replacement video, video note or link.",
	FieldAudio:   "Send the audio track to use.",
}

// OnChooseModify moves the active session into the step that accepts field.
func (m *Machine) OnChooseModify(ctx context.Context, userID int64, field Field) (Result, error) {
	const op = "modify"
	return m.exclusive(ctx, op, userID, false, func(ctx context.Context) (Result, error) {
		s, ok := m.sessions.get(userID)
		if !ok {
			return Result{}, invalidInput(op, "there is no video note in progress")
		}
		if _, known := fieldSteps[field]; !known || !m.enabled(field) {
			return Result{}, invalidInput(op, "that cannot be changed")
		}
		s.Step = fieldSteps[field]
		return m.prompt(field), nil
	})
}

// OnEditArtifact opens a session seeded from a committed artifact, waiting for field.
func (m *Machine) OnEditArtifact(ctx context.Context, userID, artifactID int64, field Field) (Result, error) {
	const op = "edit"
	return m.exclusive(ctx, op, userID, true, func(ctx context.Context) (Result, error) {
		if _, ok := m.sessions.get(userID); ok {
			return Result{}, newError(KindSessionConflict, op, "a session is already active", nil)
		}
		switch field {
		case FieldText, FieldCaption, FieldEffect:
		default:
			return Result{}, invalidInput(op, "that cannot be changed")
		}
		if !m.enabled(field) {
			return Result{}, invalidInput(op, "that cannot be changed")
		}

		a, err := m.ownedArtifact(ctx, userID, artifactID)
		if err != nil {
			return Result{}, err
		}

		scheme, _, perr := sources.ParseHandle(a.SourceHandle)
		m.sessions.put(&Session{
			UserID:       userID,
			ArtifactID:   a.ID,
			SourceHandle: a.SourceHandle,
			Native:       perr == nil && scheme == sources.SchemeTelegram,
			Text:         a.Text,
			Caption:      a.Caption,
			Effect:       a.Effect,
			Size:         a.Size(),
			Duration:     a.Duration,
			DraftHandle:  a.ContentHandle,
			Step:         fieldSteps[field],
		}, m.now())
		return m.prompt(field), nil
	})
}

func (m *Machine) prompt(field Field) Result {
	res := Result{Text: prompts[field], Menu: Menu{Kind: MenuSkip}}
	switch field {
	case FieldEffect:
		res.Menu = Menu{Kind: MenuEffects, Effects: models.Effects()}
	case FieldVideo, FieldAudio:
		res.Menu = Menu{Kind: MenuNone}
	}
	return res
}

// OnText handles free text: a link starts a session, otherwise the text
// answers the step the active session is waiting on.
func (m *Machine) OnText(ctx context.Context, userID int64, text string) (Result, error) {
	const op = "text"
	text = strings.TrimSpace(text)
	if _, active := m.sessions.get(userID); !active && looksLikeURL(text) {
		return m.OnURL(ctx, userID, text)
	}
	return m.exclusive(ctx, op, userID, false, func(ctx context.Context) (Result, error) {
		s, ok := m.sessions.get(userID)
		if !ok {
			if looksLikeURL(text) {
				return Result{}, newError(KindSessionConflict, op, "an event is already in progress", nil)
			}
			return Result{}, invalidInput(op, "send a video, a video note or a link to get started")
		}

		skip := strings.EqualFold(text, skipKeyword)
		switch s.Step {
		case StepAwaitingText:
			switch {
			case skip:
				text = ""
			case text == "":
				return Result{}, invalidInput(op, "the text is empty")
			case utf8.RuneCountInString(text) > m.cfg.MaxTextLength:
				return Result{}, invalidInput(op, fmt.Sprintf("the text must be at most %d characters", m.cfg.MaxTextLength))
			}
			previous := s.Text
			s.Text = text
			res, err := m.refreshDraft(ctx, s)
			if err != nil {
				s.Text = previous
			}
			return res, err

		case StepAwaitingCaption:
			if skip {
				text = ""
			}
			if utf8.RuneCountInString(text) > m.cfg.MaxCaptionLength {
				return Result{}, invalidInput(op, fmt.Sprintf("the caption must be at most %d characters", m.cfg.MaxCaptionLength))
			}
			s.Caption = text
			s.Step = StepComposing
			if s.ArtifactID != 0 && !s.mediaDirty {
				return m.composingResult(s, "Caption updated. Apply to save it."), nil
			}
			return m.composingResult(s, "Caption updated."), nil

		case StepAwaitingEffect:
			effect, known := models.ParseEffect(text)
			if skip {
				effect, known = models.EffectNone, true
			}
			if !known {
				return Result{}, invalidInput(op, "unknown effect, pick one from the list")
			}
			previous := s.Effect
			s.Effect = effect
			res, err := m.refreshDraft(ctx, s)
			if err != nil {
				s.Effect = previous
			}
			return res, err

		case StepAwaitingVideoReplace:
			if !looksLikeURL(text) {
				return Result{}, invalidInput(op, "send a video, a video note or a link")
			}
			if _, err := sources.ValidateURL(text); err != nil {
				return Result{}, err
			}
			return m.ingest(ctx, op, userID, m.download(text))

		case StepAwaitingAudioReplace:
			return Result{}, invalidInput(op, "send an audio file or a voice message")
		}
		return Result{}, invalidInput(op, "choose what to change, or apply or cancel")
	})
}

// OnAudio replaces the audio track of the active session's source.
func (m *Machine) OnAudio(ctx context.Context, userID int64, fileID string) (Result, error) {
	const op = "audio"
	return m.exclusive(ctx, op, userID, false, func(ctx context.Context) (Result, error) {
		s, ok := m.sessions.get(userID)
		if !ok || s.Step != StepAwaitingAudioReplace {
			return Result{}, invalidInput(op, "choose the audio option before sending a track")
		}
		if !m.cfg.Features.AudioReplace {
			return Result{}, invalidInput(op, "that cannot be changed")
		}

		var tmp media.TempFiles
		defer m.cleanup(ctx, &tmp)

		video, err := m.sources.Open(ctx, s.SourceHandle)
		if err != nil {
			return Result{}, err
		}
		tmp.Track(video)
		audio, err := m.sources.Open(ctx, sources.Handle(sources.SchemeTelegram, fileID))
		if err != nil {
			return Result{}, err
		}
		tmp.Track(audio)

		out, err := m.engine.ReplaceAudio(ctx, video, audio)
		if err != nil {
			return Result{}, err
		}
		tmp.Track(out.Path)

		handle, err := m.sources.Keep(ctx, userID, out.Path)
		if err != nil {
			return Result{}, err
		}
		s.own(handle)
		previous, wasNative := s.SourceHandle, s.Native
		s.SourceHandle = handle
		s.Native = false

		res, err := m.refreshDraftWith(ctx, s, &tmp)
		if err != nil {
			s.SourceHandle, s.Native = previous, wasNative
		}
		return res, err
	})
}

// refreshDraft re-renders the draft after a media change and swaps the relay message.
func (m *Machine) refreshDraft(ctx context.Context, s *Session) (Result, error) {
	var tmp media.TempFiles
	defer m.cleanup(ctx, &tmp)
	return m.refreshDraftWith(ctx, s, &tmp)
}

func (m *Machine) refreshDraftWith(ctx context.Context, s *Session, tmp *media.TempFiles) (Result, error) {
	receipt, err := m.publishCurrent(ctx, s, tmp)
	if err != nil {
		return Result{}, err
	}
	if s.DraftMessage != 0 {
		m.relay.Retract(ctx, s.DraftMessage)
	}
	s.DraftHandle = receipt.Handle
	s.DraftMessage = receipt.MessageID
	s.mediaDirty = true
	s.Step = StepComposing
	return m.composingResult(s, "Updated."), nil
}

// publishCurrent publishes the note described by the session fields.
// Unmodified native notes are re-sent by handle; everything else is derived
// from the original source.
func (m *Machine) publishCurrent(ctx context.Context, s *Session, tmp *media.TempFiles) (relay.Receipt, error) {
	if s.Native && s.Text == "" && s.Effect == models.EffectNone {
		_, fileID, err := sources.ParseHandle(s.SourceHandle)
		if err != nil {
			return relay.Receipt{}, err
		}
		return m.relay.Publish(ctx, relay.Media{Handle: fileID, Duration: s.Duration, Size: s.Size})
	}

	out, err := m.render(ctx, s, tmp)
	if err != nil {
		return relay.Receipt{}, err
	}
	receipt, err := m.relay.Publish(ctx, relay.Media{Path: out.Path, Duration: out.Duration, Size: out.Size})
	if err != nil {
		return relay.Receipt{}, err
	}
	s.Size = out.Size
	s.Duration = out.Duration
	return receipt, nil
}

// render derives the note from the original source: crop, then effect, then text.
func (m *Machine) render(ctx context.Context, s *Session, tmp *media.TempFiles) (media.Output, error) {
	path, err := m.sources.Open(ctx, s.SourceHandle)
	if err != nil {
		return media.Output{}, err
	}
	tmp.Track(path)

	out, err := m.engine.SquareCrop(ctx, path, m.cfg.MaxDuration)
	if err != nil {
		return media.Output{}, err
	}
	tmp.Track(out.Path)

	if s.Effect != models.EffectNone {
		out, err = m.engine.ApplyEffect(ctx, out.Path, s.Effect)
		if err != nil {
			return media.Output{}, err
		}
		tmp.Track(out.Path)
	}

	if s.Text != "" {
		out, err = m.engine.OverlayText(ctx, out.Path, s.Text)
		if err != nil {
			return media.Output{}, err
		}
		tmp.Track(out.Path)
	}
	return out, nil
}

// ownedArtifact loads an artifact, hiding ones owned by somebody else.
func (m *Machine) ownedArtifact(ctx context.Context, userID, artifactID int64) (models.Artifact, error) {
	a, err := m.store.Artifacts.Get(ctx, artifactID)
	if err != nil {
		return models.Artifact{}, err
	}
	if a.OwnerID != userID {
		return models.Artifact{}, repositories.ErrNotFound
	}
	return a, nil
}

func looksLikeURL(text string) bool {
	lower := strings.ToLower(text)
	return !strings.ContainsAny(text, " \n\t") && (strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"))
}
