package session

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/roundcast/backend/internal/logging"
	"github.com/roundcast/backend/internal/models"
	"github.com/roundcast/backend/internal/relay"
	"github.com/roundcast/backend/internal/sources"
)

// OnStart registers the user, refreshing their display name, and shows the main menu.
func (m *Machine) OnStart(ctx context.Context, user models.User) (Result, error) {
	const op = "start"
	return m.shared(ctx, op, user.ID, func(ctx context.Context) (Result, error) {
		if user.ID == 0 {
			return Result{}, invalidInput(op, "unknown user")
		}
		if user.RegisteredAt.IsZero() {
			user.RegisteredAt = m.now().UTC()
		}
		if err := m.store.Users.Upsert(ctx, user); err != nil {
			return Result{}, err
		}
		return Result{
			Text: "Send me a video, a video note or a link and I will turn it into a round video note.",
			Menu: Menu{Kind: MenuMain},
		}, nil
	})
}

// OnListArtifacts lists the user's artifacts, newest first.
func (m *Machine) OnListArtifacts(ctx context.Context, userID int64) (Result, error) {
	const op = "list"
	return m.shared(ctx, op, userID, func(ctx context.Context) (Result, error) {
		artifacts, err := m.store.Artifacts.ListByOwner(ctx, userID, m.cfg.ListLimit)
		if err != nil {
			return Result{}, err
		}
		if len(artifacts) == 0 {
			return Result{Text: "You have no saved video notes yet.", Menu: Menu{Kind: MenuMain}}, nil
		}
		res := Result{Text: fmt.Sprintf("Your video notes (%d):", len(artifacts))}
		for _, a := range artifacts {
			res.Items = append(res.Items, Item{
				ID:          a.ID,
				MediaHandle: a.ContentHandle,
				Caption:     a.Caption,
				Menu:        m.artifactMenu(a.ID),
			})
		}
		return res, nil
	})
}

// OnDeleteArtifact removes an artifact. The relay message is retracted best-effort.
func (m *Machine) OnDeleteArtifact(ctx context.Context, userID, artifactID int64) (Result, error) {
	const op = "delete"
	return m.exclusive(ctx, op, userID, false, func(ctx context.Context) (Result, error) {
		if s, ok := m.sessions.get(userID); ok && s.ArtifactID == artifactID {
			return Result{}, newError(KindSessionConflict, op, "that video note is being edited", nil)
		}
		a, err := m.ownedArtifact(ctx, userID, artifactID)
		if err != nil {
			return Result{}, err
		}
		if err := m.store.Artifacts.Delete(ctx, a.ID); err != nil {
			return Result{}, err
		}
		m.relay.Retract(ctx, a.RelayMessage)
		m.sources.Discard(ctx, a.SourceHandle)
		logging.FromContext(ctx).Info("artifact deleted", "userId", userID, "artifactId", a.ID)

		remaining, err := m.store.Artifacts.ListByOwner(ctx, userID, 1)
		if err == nil && len(remaining) == 0 {
			return Result{Text: "Deleted. You have no saved video notes left.", Menu: Menu{Kind: MenuMain}}, nil
		}
		return Result{Text: "Deleted."}, nil
	})
}

// OnSaveTemplate stores contentHandle as a reusable template.
func (m *Machine) OnSaveTemplate(ctx context.Context, userID int64, contentHandle string) (Result, error) {
	const op = "template"
	return m.exclusive(ctx, op, userID, false, func(ctx context.Context) (Result, error) {
		return m.saveTemplate(ctx, op, userID, contentHandle)
	})
}

// OnSaveArtifactTemplate stores the current handle of an artifact as a template.
func (m *Machine) OnSaveArtifactTemplate(ctx context.Context, userID, artifactID int64) (Result, error) {
	const op = "template"
	return m.exclusive(ctx, op, userID, false, func(ctx context.Context) (Result, error) {
		a, err := m.ownedArtifact(ctx, userID, artifactID)
		if err != nil {
			return Result{}, err
		}
		return m.saveTemplate(ctx, op, userID, a.ContentHandle)
	})
}

func (m *Machine) saveTemplate(ctx context.Context, op string, userID int64, contentHandle string) (Result, error) {
	if !m.cfg.Features.Templates {
		return Result{}, invalidInput(op, "templates are disabled")
	}
	contentHandle = strings.TrimSpace(contentHandle)
	if contentHandle == "" {
		return Result{}, invalidInput(op, "nothing to save")
	}
	if err := m.ensureUser(ctx, userID); err != nil {
		return Result{}, err
	}
	tpl, err := m.store.Templates.Create(ctx, models.Template{
		OwnerID:       userID,
		ContentHandle: contentHandle,
		CreatedAt:     m.now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Text: "Saved as a template.", Menu: Menu{Kind: MenuTemplate, TemplateID: tpl.ID}}, nil
}

// OnListTemplates lists the user's templates.
func (m *Machine) OnListTemplates(ctx context.Context, userID int64) (Result, error) {
	const op = "templates"
	return m.shared(ctx, op, userID, func(ctx context.Context) (Result, error) {
		templates, err := m.store.Templates.ListByOwner(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		if len(templates) == 0 {
			return Result{Text: "You have no templates yet.", Menu: Menu{Kind: MenuMain}}, nil
		}
		res := Result{Text: fmt.Sprintf("Your templates (%d):", len(templates))}
		for _, tpl := range templates {
			res.Items = append(res.Items, Item{
				ID:          tpl.ID,
				MediaHandle: tpl.ContentHandle,
				Menu:        Menu{Kind: MenuTemplate, TemplateID: tpl.ID},
			})
		}
		return res, nil
	})
}

// OnDeleteTemplate removes one of the user's templates.
func (m *Machine) OnDeleteTemplate(ctx context.Context, userID, templateID int64) (Result, error) {
	const op = "delete_template"
	return m.exclusive(ctx, op, userID, false, func(ctx context.Context) (Result, error) {
		if err := m.store.Templates.Delete(ctx, userID, templateID); err != nil {
			return Result{}, err
		}
		return Result{Text: "Template deleted."}, nil
	})
}

// OnInlineQuery answers an inline query. An empty query lists the user's
// artifacts; otherwise the query is rendered onto every stock clip. Every
// result carries an animation handle minted through the relay preview cache.
func (m *Machine) OnInlineQuery(ctx context.Context, userID int64, query string) ([]InlineResult, error) {
	const op = "inline"
	var results []InlineResult
	_, err := m.shared(ctx, op, userID, func(ctx context.Context) (Result, error) {
		query = strings.TrimSpace(query)
		if query == "" {
			artifacts, err := m.store.Artifacts.ListByOwner(ctx, userID, m.cfg.ListLimit)
			if err != nil {
				return Result{}, err
			}
			var errs []error
			for _, a := range artifacts {
				source := sources.Handle(sources.SchemeTelegram, a.ContentHandle)
				handle, err := m.relay.Preview(ctx, relay.PreviewKey{Source: source}, m.noteRender(source, a))
				if err != nil {
					logging.FromContext(ctx).Warn("artifact preview failed", "artifactId", a.ID, "error", err)
					errs = append(errs, err)
					continue
				}
				results = append(results, InlineResult{
					ID:          fmt.Sprintf("a%d", a.ID),
					MediaHandle: handle,
					Title:       artifactTitle(a),
					Caption:     a.Caption,
				})
			}
			if len(results) == 0 && len(errs) > 0 {
				return Result{}, errors.Join(errs...)
			}
			return Result{}, nil
		}

		if utf8.RuneCountInString(query) > m.cfg.MaxTextLength {
			return Result{}, invalidInput(op, fmt.Sprintf("the text must be at most %d characters", m.cfg.MaxTextLength))
		}
		var errs []error
		for _, clip := range m.cfg.StockClips {
			key := relay.PreviewKey{Source: clip, Text: query}
			handle, err := m.relay.Preview(ctx, key, m.stockRender(clip, query))
			if err != nil {
				logging.FromContext(ctx).Warn("stock preview failed", "clip", clip, "error", err)
				errs = append(errs, err)
				continue
			}
			results = append(results, InlineResult{
				ID:          key.String(),
				MediaHandle: handle,
				Title:       clipTitle(clip),
			})
		}
		if len(results) == 0 && len(errs) > 0 {
			return Result{}, errors.Join(errs...)
		}
		return Result{}, nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// noteRender fetches a committed note so it can be republished as an animation.
func (m *Machine) noteRender(source string, a models.Artifact) relay.RenderFunc {
	return func(ctx context.Context) (relay.Media, error) {
		path, err := m.sources.Open(ctx, source)
		if err != nil {
			return relay.Media{}, err
		}
		return relay.Media{Path: path, Duration: a.Duration, Size: a.Size()}, nil
	}
}

func (m *Machine) stockRender(clip, text string) relay.RenderFunc {
	return func(ctx context.Context) (relay.Media, error) {
		path, err := m.sources.Open(ctx, clip)
		if err != nil {
			return relay.Media{}, err
		}
		out, err := m.engine.OverlayText(ctx, path, text)
		if err != nil {
			return relay.Media{}, err
		}
		return relay.Media{Path: out.Path, Duration: out.Duration, Size: out.Size}, nil
	}
}

func artifactTitle(a models.Artifact) string {
	switch {
	case a.Caption != "":
		return a.Caption
	case a.Text != "":
		return a.Text
	}
	return fmt.Sprintf("Video note #%d", a.ID)
}

func clipTitle(handle string) string {
	_, ref, err := sources.ParseHandle(handle)
	if err != nil {
		return handle
	}
	name := path.Base(ref)
	return strings.TrimSuffix(name, path.Ext(name))
}
