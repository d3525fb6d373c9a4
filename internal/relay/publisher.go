package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roundcast/backend/internal/metrics"
)

var (
	// ErrRelay indicates the platform rejected a relay publish.
	ErrRelay = errors.New("relay publish failed")
	// ErrDestinationUnset indicates no relay chat is configured.
	ErrDestinationUnset = errors.New("relay destination is not configured")
)

// Messenger is the subset of the Bot API used by the publisher. *tgbotapi.BotAPI satisfies it.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Destination addresses the relay chat either by numeric id or by @channel name.
type Destination struct {
	ChatID   int64
	Username string
}

// ParseDestination accepts "-1001234567890" or "@channel".
func ParseDestination(raw string) (Destination, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Destination{}, ErrDestinationUnset
	}
	if strings.HasPrefix(value, "@") {
		if len(value) == 1 {
			return Destination{}, fmt.Errorf("relay destination %q: empty channel name", raw)
		}
		return Destination{Username: value}, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return Destination{}, fmt.Errorf("relay destination %q: %w", raw, err)
	}
	return Destination{ChatID: id}, nil
}

// IsZero reports whether the destination is unset.
func (d Destination) IsZero() bool {
	return d.ChatID == 0 && d.Username == ""
}

func (d Destination) String() string {
	if d.Username != "" {
		return d.Username
	}
	return strconv.FormatInt(d.ChatID, 10)
}

// Format selects the message type used to mint a handle. Handles are only
// replayable as the type they were minted with.
type Format int

const (
	// FormatNote mints round video note handles for chats.
	FormatNote Format = iota
	// FormatAnimation mints MPEG-4 animation handles for inline results.
	FormatAnimation
)

func (f Format) String() string {
	if f == FormatAnimation {
		return "animation"
	}
	return "video_note"
}

// Media is what gets published: either a local file or an existing content handle.
type Media struct {
	Path     string
	Handle   string
	Duration int
	Size     int
	Format   Format
}

// Receipt identifies a published relay message and the content handle it minted.
type Receipt struct {
	Handle    string
	MessageID int
}

// Publisher mints content handles by sending video notes to a private relay chat.
type Publisher struct {
	bot         Messenger
	destination Destination
	cache       Cache
	logger      *slog.Logger
}

// NewPublisher constructs a Publisher. A nil cache disables preview caching.
func NewPublisher(bot Messenger, destination Destination, cache Cache, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bot: bot, destination: destination, cache: cache, logger: logger}
}

// Publish sends media to the relay chat without notification and returns the minted handle.
func (p *Publisher) Publish(ctx context.Context, media Media) (Receipt, error) {
	receipt, err := p.publish(ctx, media)
	if err != nil {
		metrics.RelayPublishTotal.WithLabelValues("error").Inc()
		return Receipt{}, err
	}
	metrics.RelayPublishTotal.WithLabelValues("ok").Inc()
	return receipt, nil
}

func (p *Publisher) publish(ctx context.Context, media Media) (Receipt, error) {
	if p == nil || p.bot == nil || p.destination.IsZero() {
		return Receipt{}, ErrDestinationUnset
	}
	if err := ctx.Err(); err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrRelay, err)
	}

	var file tgbotapi.RequestFileData
	switch {
	case media.Path != "":
		file = tgbotapi.FilePath(media.Path)
	case media.Handle != "":
		file = tgbotapi.FileID(media.Handle)
	default:
		return Receipt{}, fmt.Errorf("%w: nothing to publish", ErrRelay)
	}

	msg, err := p.bot.Send(p.request(media, file))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: send %s: %w", ErrRelay, media.Format, err)
	}

	handle := mintedHandle(msg, media.Format)
	if handle == "" {
		p.Retract(ctx, msg.MessageID)
		return Receipt{}, fmt.Errorf("%w: platform returned no %s handle", ErrRelay, media.Format)
	}

	p.logger.Debug("published relay media", "messageId", msg.MessageID, "format", media.Format.String(), "destination", p.destination.String())
	return Receipt{Handle: handle, MessageID: msg.MessageID}, nil
}

func (p *Publisher) request(media Media, file tgbotapi.RequestFileData) tgbotapi.Chattable {
	if media.Format == FormatAnimation {
		anim := tgbotapi.NewAnimation(p.destination.ChatID, file)
		anim.ChannelUsername = p.destination.Username
		anim.Duration = media.Duration
		anim.DisableNotification = true
		return anim
	}
	note := tgbotapi.NewVideoNote(p.destination.ChatID, media.Size, file)
	note.ChannelUsername = p.destination.Username
	note.Duration = media.Duration
	note.DisableNotification = true
	return note
}

func mintedHandle(msg tgbotapi.Message, format Format) string {
	switch {
	case format == FormatAnimation:
		if msg.Animation != nil {
			return msg.Animation.FileID
		}
	case msg.VideoNote != nil:
		return msg.VideoNote.FileID
	case msg.Video != nil:
		return msg.Video.FileID
	}
	return ""
}

// Retract deletes a relay message. Failures are logged and never returned:
// the platform may already have removed the message.
func (p *Publisher) Retract(ctx context.Context, messageID int) {
	if p == nil || p.bot == nil || messageID == 0 || p.destination.IsZero() {
		return
	}

	del := tgbotapi.NewDeleteMessage(p.destination.ChatID, messageID)
	del.ChannelUsername = p.destination.Username

	if _, err := p.bot.Request(del); err != nil {
		metrics.RelayRetractionsTotal.WithLabelValues("error").Inc()
		p.logger.WarnContext(ctx, "relay retract failed", "messageId", messageID, "error", err)
		return
	}
	metrics.RelayRetractionsTotal.WithLabelValues("ok").Inc()
}
