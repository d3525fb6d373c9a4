package bot

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roundcast/backend/internal/models"
	"github.com/roundcast/backend/internal/session"
)

// Main menu reply buttons.
const (
	ButtonCreate    = "🎥 Create New"
	ButtonNotes     = "📼 My Notes"
	ButtonTemplates = "🎬 Templates"
	ButtonSkip      = "⏩ Skip"

	skipKeyword = "skip"
)

// Callback data prefixes. Data is "<action>" or "<action>:<argument>".
const (
	actionEditText    = "edit_text"
	actionEditCaption = "edit_caption"
	actionEditEffect  = "edit_effect"
	actionDelete      = "delete"
	actionTemplate    = "template"
	actionDelTemplate = "deltpl"
	actionModify      = "mod"
	actionEffect      = "effect"
	actionApply       = "apply"
	actionCancel      = "cancel"
)

var fieldLabels = map[session.Field]string{
	session.FieldText:    "✏️ Text",
	session.FieldCaption: "💬 Caption",
	session.FieldEffect:  "🎨 Effect",
	session.FieldVideo:   "🎞 Video",
	session.FieldAudio:   "🎵 Audio",
}

var editActions = map[session.Field]string{
	session.FieldText:    actionEditText,
	session.FieldCaption: actionEditCaption,
	session.FieldEffect:  actionEditEffect,
}

func callbackData(action string, id int64) string {
	return action + ":" + strconv.FormatInt(id, 10)
}

func mainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonCreate)),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(ButtonNotes),
			tgbotapi.NewKeyboardButton(ButtonTemplates),
		),
	)
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewOneTimeReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonSkip)),
	)
	return kb
}

// markup converts a menu descriptor into reply markup. It returns nil when
// the menu has no keyboard.
func markup(menu session.Menu) any {
	switch menu.Kind {
	case session.MenuMain:
		return mainKeyboard()
	case session.MenuSkip:
		return skipKeyboard()
	case session.MenuComposing:
		return composingKeyboard(menu)
	case session.MenuArtifact:
		return artifactKeyboard(menu)
	case session.MenuTemplate:
		return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete template", callbackData(actionDelTemplate, menu.TemplateID)),
		))
	case session.MenuEffects:
		return effectsKeyboard(menu.Effects)
	}
	return nil
}

func composingKeyboard(menu session.Menu) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, f := range menu.Fields {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(fieldLabels[f], actionModify+":"+string(f)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Apply", actionApply),
		tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", actionCancel),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func artifactKeyboard(menu session.Menu) tgbotapi.InlineKeyboardMarkup {
	var edits []tgbotapi.InlineKeyboardButton
	for _, f := range menu.Fields {
		action, ok := editActions[f]
		if !ok {
			continue
		}
		edits = append(edits, tgbotapi.NewInlineKeyboardButtonData(fieldLabels[f], callbackData(action, menu.ArtifactID)))
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	if len(edits) > 0 {
		rows = append(rows, edits)
	}
	last := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", callbackData(actionDelete, menu.ArtifactID)),
	}
	if menu.Templates {
		last = append(last, tgbotapi.NewInlineKeyboardButtonData("⭐ Save as template", callbackData(actionTemplate, menu.ArtifactID)))
	}
	rows = append(rows, last)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func effectsKeyboard(effects []models.Effect) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, e := range effects {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(e.DisplayName(), actionEffect+":"+string(e)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData(ButtonSkip, actionEffect+":"+skipKeyword))
	rows = append(rows, row)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
