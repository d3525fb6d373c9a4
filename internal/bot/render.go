package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roundcast/backend/internal/logging"
	"github.com/roundcast/backend/internal/session"
)

// render delivers a state machine result to the chat. Inline keyboards are
// attached to the video note they act on; a note's caption follows it as a
// reply, since video notes cannot carry one.
func (r *Router) render(ctx context.Context, chatID, userID int64, res session.Result, err error) {
	if err != nil {
		r.send(ctx, tgbotapi.NewMessage(chatID, session.UserMessage(err)))
		return
	}
	if res.DeletePreview != 0 {
		r.delete(ctx, chatID, res.DeletePreview)
	}

	kb := markup(res.Menu)
	_, inline := kb.(tgbotapi.InlineKeyboardMarkup)

	var anchor int
	switch {
	case res.MediaHandle != "":
		if res.Text != "" {
			msg := tgbotapi.NewMessage(chatID, res.Text)
			if inline {
				msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
			} else if kb != nil {
				msg.ReplyMarkup = kb
			}
			r.send(ctx, msg)
		}
		var noteKB any
		if inline {
			noteKB = kb
		}
		anchor = r.sendNote(ctx, chatID, res.MediaHandle, res.Caption, noteKB)
	case res.Text != "":
		msg := tgbotapi.NewMessage(chatID, res.Text)
		if kb != nil {
			msg.ReplyMarkup = kb
		}
		anchor = r.send(ctx, msg)
	}

	for _, item := range res.Items {
		r.sendNote(ctx, chatID, item.MediaHandle, item.Caption, markup(item.Menu))
	}

	if res.Menu.Kind == session.MenuComposing && anchor != 0 {
		if stale := r.machine.AttachPreview(ctx, userID, anchor); stale != 0 {
			r.delete(ctx, chatID, stale)
		}
	}
}

func (r *Router) sendNote(ctx context.Context, chatID int64, handle, caption string, kb any) int {
	note := tgbotapi.NewVideoNote(chatID, 0, tgbotapi.FileID(handle))
	if kb != nil {
		note.ReplyMarkup = kb
	}
	id := r.send(ctx, note)
	if id != 0 && caption != "" {
		msg := tgbotapi.NewMessage(chatID, caption)
		msg.ReplyToMessageID = id
		r.send(ctx, msg)
	}
	return id
}

// send returns the id of the delivered message, or zero on failure.
func (r *Router) send(ctx context.Context, c tgbotapi.Chattable) int {
	msg, err := r.api.Send(c)
	if err != nil {
		logging.FromContext(ctx).Error("sending message failed", "error", err)
		return 0
	}
	return msg.MessageID
}

func (r *Router) delete(ctx context.Context, chatID int64, messageID int) {
	if _, err := r.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		logging.FromContext(ctx).Debug("deleting message failed", "messageId", messageID, "error", err)
	}
}
