package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roundcast/backend/internal/logging"
	"github.com/roundcast/backend/internal/models"
	"github.com/roundcast/backend/internal/session"
)

const (
	helpText = "Send me a video, a video note or a link and I will turn it into a round video note. " +
		"Use the menu to see your saved notes and templates."
	createText      = "Send a video, a video note or a link to a video."
	unsupportedText = "I can only work with videos, video notes, links and text."
	templateUsage   = "Reply to a video note with /template to save it as a template."
)

func (r *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	res, err := r.dispatchMessage(ctx, msg)
	r.render(ctx, msg.Chat.ID, msg.From.ID, res, err)
}

func (r *Router) dispatchMessage(ctx context.Context, msg *tgbotapi.Message) (session.Result, error) {
	userID := msg.From.ID
	if msg.IsCommand() {
		return r.dispatchCommand(ctx, msg)
	}

	switch {
	case msg.VideoNote != nil:
		note := msg.VideoNote
		return r.machine.OnVideoNoteNative(ctx, userID, note.FileID, note.Duration, note.Length)
	case msg.Video != nil:
		v := msg.Video
		return r.machine.OnVideo(ctx, userID, session.VideoInput{
			FileID:   v.FileID,
			Duration: v.Duration,
			Width:    v.Width,
			Height:   v.Height,
		})
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "video/"):
		return r.machine.OnVideo(ctx, userID, session.VideoInput{FileID: msg.Document.FileID})
	case msg.Audio != nil:
		return r.machine.OnAudio(ctx, userID, msg.Audio.FileID)
	case msg.Voice != nil:
		return r.machine.OnAudio(ctx, userID, msg.Voice.FileID)
	case msg.Text != "":
		return r.dispatchText(ctx, userID, msg.Text)
	}
	return session.Result{Text: unsupportedText}, nil
}

func (r *Router) dispatchCommand(ctx context.Context, msg *tgbotapi.Message) (session.Result, error) {
	userID := msg.From.ID
	switch msg.Command() {
	case "start":
		return r.machine.OnStart(ctx, userOf(msg.From))
	case "notes":
		return r.machine.OnListArtifacts(ctx, userID)
	case "templates":
		return r.machine.OnListTemplates(ctx, userID)
	case "template":
		if reply := msg.ReplyToMessage; reply != nil && reply.VideoNote != nil {
			return r.machine.OnSaveTemplate(ctx, userID, reply.VideoNote.FileID)
		}
		return session.Result{Text: templateUsage}, nil
	case "apply":
		return r.machine.OnApply(ctx, userID)
	case "cancel":
		return r.machine.OnCancel(ctx, userID)
	}
	return session.Result{Text: helpText, Menu: session.Menu{Kind: session.MenuMain}}, nil
}

func (r *Router) dispatchText(ctx context.Context, userID int64, text string) (session.Result, error) {
	switch strings.TrimSpace(text) {
	case ButtonCreate:
		return session.Result{Text: createText}, nil
	case ButtonNotes:
		return r.machine.OnListArtifacts(ctx, userID)
	case ButtonTemplates:
		return r.machine.OnListTemplates(ctx, userID)
	case ButtonSkip:
		return r.machine.OnText(ctx, userID, skipKeyword)
	}
	return r.machine.OnText(ctx, userID, text)
}

func (r *Router) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := r.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		logging.FromContext(ctx).Debug("callback acknowledgement failed", "error", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	res, err := r.dispatchCallback(ctx, cb.From.ID, cb.Data)
	r.render(ctx, cb.Message.Chat.ID, cb.From.ID, res, err)
}

func (r *Router) dispatchCallback(ctx context.Context, userID int64, data string) (session.Result, error) {
	action, arg, _ := strings.Cut(data, ":")
	switch action {
	case actionApply:
		return r.machine.OnApply(ctx, userID)
	case actionCancel:
		return r.machine.OnCancel(ctx, userID)
	case actionModify:
		field, ok := session.ParseField(arg)
		if !ok {
			break
		}
		return r.machine.OnChooseModify(ctx, userID, field)
	case actionEffect:
		return r.machine.OnText(ctx, userID, arg)
	}

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		logging.FromContext(ctx).Debug("ignoring malformed callback", "data", data)
		return session.Result{Text: unsupportedText}, nil
	}
	switch action {
	case actionEditText:
		return r.machine.OnEditArtifact(ctx, userID, id, session.FieldText)
	case actionEditCaption:
		return r.machine.OnEditArtifact(ctx, userID, id, session.FieldCaption)
	case actionEditEffect:
		return r.machine.OnEditArtifact(ctx, userID, id, session.FieldEffect)
	case actionDelete:
		return r.machine.OnDeleteArtifact(ctx, userID, id)
	case actionTemplate:
		return r.machine.OnSaveArtifactTemplate(ctx, userID, id)
	case actionDelTemplate:
		return r.machine.OnDeleteTemplate(ctx, userID, id)
	}
	logging.FromContext(ctx).Debug("ignoring unknown callback", "data", data)
	return session.Result{Text: unsupportedText}, nil
}

func (r *Router) handleInline(ctx context.Context, q *tgbotapi.InlineQuery) {
	logger := logging.FromContext(ctx)
	results, err := r.machine.OnInlineQuery(ctx, q.From.ID, q.Query)
	if err != nil {
		logger.Warn("inline query failed", "error", err)
	}

	answer := tgbotapi.InlineConfig{
		InlineQueryID: q.ID,
		CacheTime:     r.opts.InlineCacheTime,
		IsPersonal:    true,
		Results:       make([]any, 0, len(results)),
	}
	for _, res := range results {
		item := tgbotapi.NewInlineQueryResultCachedMPEG4GIF(res.ID, res.MediaHandle)
		item.Title = res.Title
		item.Caption = res.Caption
		answer.Results = append(answer.Results, item)
	}
	if len(results) == 0 && q.Query == "" {
		answer.SwitchPMText = "📭 No video notes yet. Open the bot?"
		answer.SwitchPMParameter = "create"
	}
	if _, err := r.api.Request(answer); err != nil {
		logger.Warn("answering inline query failed", "error", err)
	}
}

func userOf(u *tgbotapi.User) models.User {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return models.User{ID: u.ID, Username: u.UserName, DisplayName: name}
}
