package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/roundcast/backend/internal/logging"
	"github.com/roundcast/backend/internal/media"
	"github.com/roundcast/backend/internal/models"
	"github.com/roundcast/backend/internal/relay"
	"github.com/roundcast/backend/internal/repositories"
)

// OnApply commits the active session to the content store and ends it.
//
// Notes carrying overlay text are always re-derived from the original source
// so a new text never lands on top of an old one. Other drafts were already
// derived from the source and are committed as they are. A failed apply
// leaves the session and any committed artifact untouched.
func (m *Machine) OnApply(ctx context.Context, userID int64) (Result, error) {
	const op = "apply"
	return m.exclusive(ctx, op, userID, false, func(ctx context.Context) (Result, error) {
		s, ok := m.sessions.get(userID)
		if !ok {
			return Result{}, invalidInput(op, "there is no video note in progress")
		}

		if s.ArtifactID != 0 && !s.mediaDirty {
			return m.applyCaption(ctx, s)
		}

		var tmp media.TempFiles
		defer m.cleanup(ctx, &tmp)

		final := relay.Receipt{Handle: s.DraftHandle, MessageID: s.DraftMessage}
		fresh := s.Text != "" || s.DraftMessage == 0
		if fresh {
			receipt, err := m.publishCurrent(ctx, s, &tmp)
			if err != nil {
				return Result{}, applyError(ctx, err)
			}
			final = receipt
		}

		var prior models.Artifact
		if s.ArtifactID != 0 {
			a, err := m.ownedArtifact(ctx, userID, s.ArtifactID)
			if err != nil {
				m.dropFresh(ctx, fresh, final)
				return Result{}, applyError(ctx, err)
			}
			prior = a
		}

		artifact := models.Artifact{
			ID:            s.ArtifactID,
			OwnerID:       userID,
			ContentHandle: final.Handle,
			RelayMessage:  final.MessageID,
			SourceHandle:  s.SourceHandle,
			Text:          s.Text,
			Caption:       s.Caption,
			Effect:        s.Effect,
			Duration:      s.Duration,
			Width:         s.Size,
			Height:        s.Size,
			CreatedAt:     prior.CreatedAt,
		}
		saved, err := m.persist(ctx, artifact)
		if err != nil {
			m.dropFresh(ctx, fresh, final)
			return Result{}, applyError(ctx, err)
		}

		if fresh && s.DraftMessage != 0 {
			m.relay.Retract(ctx, s.DraftMessage)
		}
		if prior.RelayMessage != 0 && prior.RelayMessage != final.MessageID {
			m.relay.Retract(ctx, prior.RelayMessage)
		}
		for _, handle := range s.ownedSources {
			if handle != saved.SourceHandle {
				m.sources.Discard(ctx, handle)
			}
		}
		if prior.SourceHandle != "" && prior.SourceHandle != saved.SourceHandle {
			m.sources.Discard(ctx, prior.SourceHandle)
		}
		m.sessions.delete(userID)

		logging.FromContext(ctx).Info("artifact committed", "userId", userID, "artifactId", saved.ID, "rederived", fresh)
		return Result{
			Text:          "Saved.",
			MediaHandle:   saved.ContentHandle,
			Caption:       saved.Caption,
			Menu:          m.artifactMenu(saved.ID),
			DeletePreview: s.PreviewMessage,
		}, nil
	})
}

// applyCaption commits a caption change on an artifact whose media is unchanged.
func (m *Machine) applyCaption(ctx context.Context, s *Session) (Result, error) {
	a, err := m.ownedArtifact(ctx, s.UserID, s.ArtifactID)
	if err != nil {
		return Result{}, applyError(ctx, err)
	}
	a.Caption = s.Caption
	if err := m.store.Artifacts.Update(ctx, a); err != nil {
		return Result{}, applyError(ctx, err)
	}
	m.teardown(ctx, s)
	return Result{
		Text:          "Caption saved.",
		MediaHandle:   a.ContentHandle,
		Caption:       a.Caption,
		Menu:          m.artifactMenu(a.ID),
		DeletePreview: s.PreviewMessage,
	}, nil
}

// persist writes the artifact row, creating the owner first when needed.
func (m *Machine) persist(ctx context.Context, a models.Artifact) (models.Artifact, error) {
	if a.ID != 0 {
		if err := m.store.Artifacts.Update(ctx, a); err != nil {
			return models.Artifact{}, err
		}
		return a, nil
	}
	if err := m.ensureUser(ctx, a.OwnerID); err != nil {
		return models.Artifact{}, err
	}
	return m.store.Artifacts.Create(ctx, a)
}

func (m *Machine) ensureUser(ctx context.Context, userID int64) error {
	_, err := m.store.Users.Find(ctx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return err
	}
	return m.store.Users.Upsert(ctx, models.User{ID: userID, RegisteredAt: m.now().UTC()})
}

// dropFresh retracts a final version that was published but never committed.
func (m *Machine) dropFresh(ctx context.Context, fresh bool, final relay.Receipt) {
	if fresh && final.MessageID != 0 {
		m.relay.Retract(ctx, final.MessageID)
	}
}

func applyError(ctx context.Context, err error) *Error {
	cause := classify(ctx, "apply", err)
	if cause.Kind == KindProcessingTimeout {
		return cause
	}
	return newError(KindApply, "apply", fmt.Sprintf("could not save (%s)", cause.Kind), cause)
}

// OnCancel discards the active session. Cancelling without a session is a no-op.
func (m *Machine) OnCancel(ctx context.Context, userID int64) (Result, error) {
	const op = "cancel"
	return m.exclusive(ctx, op, userID, false, func(ctx context.Context) (Result, error) {
		s, ok := m.sessions.get(userID)
		if !ok {
			return Result{Text: "Nothing to cancel.", Menu: Menu{Kind: MenuMain}}, nil
		}
		preview := s.PreviewMessage
		m.teardown(ctx, s)
		logging.FromContext(ctx).Info("session cancelled", "userId", userID)
		return Result{Text: "Discarded.", Menu: Menu{Kind: MenuMain}, DeletePreview: preview}, nil
	})
}

// AttachPreview records the chat message showing the session's menu so the
// next update can replace it. It returns a superseded preview the caller
// should delete, or zero.
func (m *Machine) AttachPreview(ctx context.Context, userID int64, messageID int) int {
	if err := m.locks.Lock(ctx, userID); err != nil {
		return 0
	}
	defer m.locks.Unlock(userID)

	s, ok := m.sessions.get(userID)
	if !ok {
		return 0
	}
	previous := s.PreviewMessage
	s.PreviewMessage = messageID
	if previous == messageID {
		return 0
	}
	return previous
}
