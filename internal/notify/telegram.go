// Package notify pushes series events and live alerts to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/odds"
	"github.com/fortuna/aegis/internal/reconciliation"
	"github.com/fortuna/aegis/internal/service"
	"github.com/fortuna/aegis/internal/store"
)

// alertMemory bounds how long an alerted match is remembered.
const alertMemory = 24 * time.Hour

// Sender delivers one message. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Annotator evaluates the alerts of a match.
type Annotator interface {
	Annotate(ctx context.Context, m store.Match) odds.Annotation
}

// Telegram turns tracker events into chat messages: series openings and
// results, and a low-kill alert at most once per match.
type Telegram struct {
	sender    Sender
	chatID    int64
	annotator Annotator
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	alerted map[int64]time.Time
}

// NewTelegram authorizes the bot token and returns a notifier.
func NewTelegram(token string, chatID int64, annotator Annotator, logger zerolog.Logger) (*Telegram, error) {
	if chatID == 0 {
		return nil, errors.New("telegram chat id not set")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authorizing telegram bot: %w", err)
	}
	t := NewTelegramWithSender(bot, chatID, annotator, logger)
	t.logger.Info().Str("username", bot.Self.UserName).Msg("telegram bot authorized")
	return t, nil
}

// NewTelegramWithSender builds a notifier around an existing sender.
func NewTelegramWithSender(sender Sender, chatID int64, annotator Annotator, logger zerolog.Logger) *Telegram {
	return &Telegram{
		sender:    sender,
		chatID:    chatID,
		annotator: annotator,
		logger:    logger.With().Str("component", "telegram").Logger(),
		now:       time.Now,
		alerted:   make(map[int64]time.Time),
	}
}

// Name implements publisher.Handler.
func (t *Telegram) Name() string {
	return "telegram"
}

// Handle implements publisher.Handler.
func (t *Telegram) Handle(ctx context.Context, ev reconciliation.Event) error {
	if ev.Series == nil {
		return nil
	}
	switch ev.Type {
	case reconciliation.EventSeriesStarted:
		return t.send(ctx, seriesStartedText(ev.Series))
	case reconciliation.EventSeriesCompleted:
		t.forget(ev.Series)
		return t.send(ctx, seriesCompletedText(ev.Series))
	case reconciliation.EventMatchUpdated:
		return t.checkLowKill(ctx, ev)
	}
	return nil
}

func (t *Telegram) checkLowKill(ctx context.Context, ev reconciliation.Event) error {
	idx := ev.Series.MatchIndex(ev.MatchID)
	if idx < 0 || t.annotator == nil {
		return nil
	}
	m := ev.Series.Matches[idx]
	a := t.annotator.Annotate(ctx, m)
	if !a.LowKill || !t.markAlerted(m.MatchID) {
		return nil
	}
	if err := t.send(ctx, lowKillText(ev.Series, m, a)); err != nil {
		t.unmark(m.MatchID)
		return err
	}
	t.logger.Info().Int64("match_id", m.MatchID).Int("total_kills", m.TotalKills).Msg("low-kill alert sent")
	return nil
}

func (t *Telegram) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.sender.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// markAlerted records the match and reports whether it was new.
func (t *Telegram) markAlerted(matchID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, at := range t.alerted {
		if now.Sub(at) > alertMemory {
			delete(t.alerted, id)
		}
	}
	if _, ok := t.alerted[matchID]; ok {
		return false
	}
	t.alerted[matchID] = now
	return true
}

func (t *Telegram) unmark(matchID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.alerted, matchID)
}

func (t *Telegram) forget(series *store.Series) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range series.Matches {
		delete(t.alerted, m.MatchID)
	}
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func seriesStartedText(s *store.Series) string {
	var b strings.Builder
	b.WriteString("🚀 *New live series*\n\n")
	if s.LeagueName != "" {
		fmt.Fprintf(&b, "🏆 *League*: %s\n", escape(s.LeagueName))
	}
	fmt.Fprintf(&b, "⚔️ *%s* vs *%s* (%s)\n\n", escape(s.RadiantTeamName), escape(s.DireTeamName), s.SeriesType)
	fmt.Fprintf(&b, "🎯 *Series*: %s", escape(s.Key))
	return b.String()
}

func seriesCompletedText(s *store.Series) string {
	winner, loser := s.RadiantTeamName, s.DireTeamName
	if s.DireScore > s.RadiantScore {
		winner, loser = loser, winner
	}
	hi, lo := max(s.RadiantScore, s.DireScore), min(s.RadiantScore, s.DireScore)

	var b strings.Builder
	b.WriteString("🏁 *Series completed*\n\n")
	fmt.Fprintf(&b, "🥇 *%s* %d-%d %s\n", escape(winner), hi, lo, escape(loser))
	stats := service.ComputeSeriesStats(s)
	fmt.Fprintf(&b, "📊 %d kills over %d games", stats.TotalKills, len(s.Matches))
	return b.String()
}

func lowKillText(s *store.Series, m store.Match, a odds.Annotation) string {
	radiant, dire := m.Radiant.Name, m.Dire.Name
	if radiant == "" {
		radiant = s.RadiantTeamName
	}
	if dire == "" {
		dire = s.DireTeamName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "😴 *ALERT: only %d kills*\n\n", m.TotalKills)
	fmt.Fprintf(&b, "⚔️ *%s* vs *%s* (game %d)\n", escape(radiant), escape(dire), m.GameNumber)
	fmt.Fprintf(&b, "⏱️ Duration: %s\n", service.FormatDuration(m.DurationSeconds))
	fmt.Fprintf(&b, "🔴 %s: %d kills\n", escape(radiant), m.RadiantScore)
	fmt.Fprintf(&b, "🔵 %s: %d kills\n", escape(dire), m.DireScore)
	fmt.Fprintf(&b, "📊 Total: %d kills", m.TotalKills)
	if a.KillThreshold != nil {
		fmt.Fprintf(&b, "\n\n💰 *Total kills line*: %.1f", *a.KillThreshold)
	}
	return b.String()
}
