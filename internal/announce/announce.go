// Package announce posts memorization milestones to a Discord channel: a
// surah that has just become fully memorized, and practice streaks reaching
// a configured length.
package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hafiz/internal/catalog"
	"github.com/MrWong99/hafiz/internal/progress"
)

const (
	embedColorGreen = 0x2ECC71
	embedColorGold  = 0xF1C40F
)

// Sender is the subset of *discordgo.Session the announcer needs.
type Sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Sender = (*discordgo.Session)(nil)

// Option configures an Announcer.
type Option func(*Announcer)

// WithMilestones sets the streak lengths worth announcing.
func WithMilestones(days ...int) Option {
	return func(a *Announcer) { a.milestones = slices.Clone(days) }
}

// WithLang selects the language of collection names and message text.
func WithLang(lang string) Option {
	return func(a *Announcer) { a.lang = lang }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Announcer) { a.log = l }
}

// Announcer watches a progress store and posts milestones. Only transitions
// observed while running are announced; state present at start is not.
type Announcer struct {
	sender     Sender
	channelID  string
	catalog    *catalog.Catalog
	store      *progress.Store
	milestones []int
	lang       string
	log        *slog.Logger

	mu         sync.Mutex
	memorized  map[int]bool
	lastStreak int
}

// New returns an Announcer posting to channelID through sender.
func New(sender Sender, channelID string, cat *catalog.Catalog, store *progress.Store, opts ...Option) *Announcer {
	a := &Announcer{
		sender:    sender,
		channelID: channelID,
		catalog:   cat,
		store:     store,
		lang:      "en",
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Dial opens a Discord bot session for token.
func Dial(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("announce: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("announce: open session: %w", err)
	}
	return s, nil
}

// Run announces milestones on every store change until ctx is cancelled.
// The store must have a change feed.
func (a *Announcer) Run(ctx context.Context) error {
	feed := a.store.Changes()
	if feed == nil {
		return errors.New("announce: progress store has no change feed")
	}
	a.Prime(ctx)
	changes, cancel := feed.Subscribe()
	defer cancel()
	// Catch writes that landed between Prime and Subscribe.
	a.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			a.Check(ctx)
		}
	}
}

// Prime records the current state as already announced.
func (a *Announcer) Prime(ctx context.Context) {
	rec := a.store.Load(ctx)
	streak := a.store.Streak(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.memorized = a.memorizedSet(rec)
	a.lastStreak = streak
}

// Check compares the store against the last observed state and posts every
// new milestone. It reports how many messages were sent.
func (a *Announcer) Check(ctx context.Context) int {
	rec := a.store.Load(ctx)
	streak := a.store.Streak(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.memorized == nil {
		a.memorized = make(map[int]bool)
	}

	sent := 0
	for _, col := range a.catalog.Collections() {
		done := progress.CollectionScore(rec, col) == 100
		if done && !a.memorized[col.ID] {
			if a.post(a.collectionEmbed(col)) {
				sent++
			}
		}
		a.memorized[col.ID] = done
	}

	if streak != a.lastStreak && slices.Contains(a.milestones, streak) {
		if a.post(a.streakEmbed(streak)) {
			sent++
		}
	}
	a.lastStreak = streak
	return sent
}

func (a *Announcer) memorizedSet(rec progress.Record) map[int]bool {
	out := make(map[int]bool)
	for _, col := range a.catalog.Collections() {
		out[col.ID] = progress.CollectionScore(rec, col) == 100
	}
	return out
}

func (a *Announcer) post(embed *discordgo.MessageEmbed) bool {
	if _, err := a.sender.ChannelMessageSendEmbed(a.channelID, embed); err != nil {
		a.log.Warn("announce: send message", "channel", a.channelID, "title", embed.Title, "err", err)
		return false
	}
	a.log.Info("announce: posted", "channel", a.channelID, "title", embed.Title)
	return true
}

func (a *Announcer) collectionEmbed(col catalog.Collection) *discordgo.MessageEmbed {
	t := textsFor(a.lang)
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf(t.memorizedTitle, col.LocalizedName(a.lang)),
		Description: fmt.Sprintf(t.memorizedBody, len(col.Verses)),
		Color:       embedColorGreen,
	}
}

func (a *Announcer) streakEmbed(days int) *discordgo.MessageEmbed {
	t := textsFor(a.lang)
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf(t.streakTitle, days),
		Description: t.streakBody,
		Color:       embedColorGold,
	}
}

type texts struct {
	memorizedTitle string
	memorizedBody  string
	streakTitle    string
	streakBody     string
}

var localized = map[string]texts{
	"en": {
		memorizedTitle: "Surah %s memorized!",
		memorizedBody:  "All %d verses recited correctly. Masha'Allah!",
		streakTitle:    "%d day practice streak",
		streakBody:     "Keep going, every day counts.",
	},
	"fr": {
		memorizedTitle: "Sourate %s mémorisée !",
		memorizedBody:  "Les %d versets ont été récités correctement. Masha'Allah !",
		streakTitle:    "%d jours de pratique d'affilée",
		streakBody:     "Continue, chaque jour compte.",
	},
	"ar": {
		memorizedTitle: "تم حفظ سورة %s!",
		memorizedBody:  "تمت تلاوة الآيات الـ %d بشكل صحيح. ما شاء الله!",
		streakTitle:    "%d أيام متتالية من المراجعة",
		streakBody:     "استمر، كل يوم له قيمة.",
	},
}

func textsFor(lang string) texts {
	if t, ok := localized[lang]; ok {
		return t
	}
	return localized["en"]
}
