package bot

import (
	"context"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roundcast/backend/internal/logging"
	"github.com/roundcast/backend/internal/models"
	"github.com/roundcast/backend/internal/session"
)

// API is the subset of the Bot API used by the router. *tgbotapi.BotAPI satisfies it.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Machine is the state machine surface the router dispatches to. *session.Machine satisfies it.
type Machine interface {
	OnStart(ctx context.Context, user models.User) (session.Result, error)
	OnVideo(ctx context.Context, userID int64, in session.VideoInput) (session.Result, error)
	OnVideoNoteNative(ctx context.Context, userID int64, fileID string, duration, size int) (session.Result, error)
	OnText(ctx context.Context, userID int64, text string) (session.Result, error)
	OnAudio(ctx context.Context, userID int64, fileID string) (session.Result, error)
	OnApply(ctx context.Context, userID int64) (session.Result, error)
	OnCancel(ctx context.Context, userID int64) (session.Result, error)
	OnChooseModify(ctx context.Context, userID int64, field session.Field) (session.Result, error)
	OnEditArtifact(ctx context.Context, userID, artifactID int64, field session.Field) (session.Result, error)
	OnListArtifacts(ctx context.Context, userID int64) (session.Result, error)
	OnDeleteArtifact(ctx context.Context, userID, artifactID int64) (session.Result, error)
	OnSaveTemplate(ctx context.Context, userID int64, contentHandle string) (session.Result, error)
	OnSaveArtifactTemplate(ctx context.Context, userID, artifactID int64) (session.Result, error)
	OnListTemplates(ctx context.Context, userID int64) (session.Result, error)
	OnDeleteTemplate(ctx context.Context, userID, templateID int64) (session.Result, error)
	OnInlineQuery(ctx context.Context, userID int64, query string) ([]session.InlineResult, error)
	AttachPreview(ctx context.Context, userID int64, messageID int) int
}

// Options tunes the update loop.
type Options struct {
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// InlineCacheTime is how long clients may cache inline answers, in seconds.
	InlineCacheTime int
}

// Router turns Telegram updates into state machine events and renders the
// results back into the chat.
type Router struct {
	api     API
	machine Machine
	logger  *slog.Logger
	opts    Options

	wg sync.WaitGroup
}

// New constructs a Router.
func New(api API, machine Machine, logger *slog.Logger, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30
	}
	if opts.InlineCacheTime <= 0 {
		opts.InlineCacheTime = 300
	}
	return &Router{api: api, machine: machine, logger: logger, opts: opts}
}

// Run long-polls for updates until ctx is cancelled, handling each update in
// its own goroutine. It waits for in-flight updates before returning.
func (r *Router) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = r.opts.PollTimeout
	cfg.AllowedUpdates = []string{"message", "callback_query", "inline_query"}
	updates := r.api.GetUpdatesChan(cfg)

	r.logger.Info("bot polling started")
	defer func() {
		r.wg.Wait()
		r.logger.Info("bot polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			r.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.Handle(ctx, update)
			}()
		}
	}
}

// Handle processes a single update. Panics are recovered and logged so one
// bad update cannot take the poller down.
func (r *Router) Handle(ctx context.Context, update tgbotapi.Update) {
	kind, from := describe(update)
	if kind == "" || from == nil {
		return
	}

	ctx = logging.WithLogger(ctx, r.logger)
	ctx, span := logging.StartSpan(ctx, "bot."+kind)
	ctx = logging.WithUserID(ctx, from.ID)
	defer func() {
		if rec := recover(); rec != nil {
			logging.FromContext(ctx).Error("panic recovered", "panic", rec, "updateId", update.UpdateID)
		}
		span.End()
	}()

	switch {
	case update.InlineQuery != nil:
		r.handleInline(ctx, update.InlineQuery)
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		r.handleMessage(ctx, update.Message)
	}
}

func describe(update tgbotapi.Update) (string, *tgbotapi.User) {
	switch {
	case update.InlineQuery != nil:
		return "inline", update.InlineQuery.From
	case update.CallbackQuery != nil:
		return "callback", update.CallbackQuery.From
	case update.Message != nil && update.Message.Chat != nil && update.Message.Chat.IsPrivate():
		return "message", update.Message.From
	}
	return "", nil
}
