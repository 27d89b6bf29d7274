// Package telegram is the bot's outgoing message channel.
//
// The sender is send-only: enrollment, payment and chat commands live in a
// separate surface. The engines only need "put this text in this chat now,
// tell me if it worked".
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "lessonbot/pkg/logx"
)

type Config struct {
	Token string
	// RatePerSec caps outgoing messages across all chats. Telegram's bot
	// API starts rejecting around 30 msg/s; keep headroom below that.
	RatePerSec int
}

type Sender struct {
	bot     *tele.Bot
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Send-only: no poller, never call bot.Start(). Outgoing calls go
	// through bot.Send directly.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	return &Sender{
		bot:     b,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

const telegramTextLimit = 4000

// SendText delivers text to a chat, splitting messages that exceed
// Telegram's length limit on newline boundaries. The rate limiter honors
// ctx, so a caller-enforced timeout bounds the whole call including the
// token wait.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("refusing to send empty message")
	}

	chunks := splitText(text, telegramTextLimit)
	chat := &tele.Chat{ID: chatID}

	for _, chunk := range chunks {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		if _, err := s.bot.Send(chat, chunk); err != nil {
			s.log.Debug("send failed", logx.Int64("chat", chatID), logx.Err(err), logx.Duration("took", time.Since(start)))
			return err
		}
	}
	return nil
}

// splitText splits long messages into chunks that are safe to send,
// preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window, but
		// avoid producing tiny chunks.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
