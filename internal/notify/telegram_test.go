package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/fortuna/aegis/internal/odds"
	"github.com/fortuna/aegis/internal/reconciliation"
	"github.com/fortuna/aegis/internal/store"
)

type recordingSender struct {
	texts []string
	fail  error
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if r.fail != nil {
		return tgbotapi.Message{}, r.fail
	}
	msg := c.(tgbotapi.MessageConfig)
	r.texts = append(r.texts, msg.Text)
	return tgbotapi.Message{MessageID: len(r.texts)}, nil
}

func liveSeries(seconds, radiantKills, direKills int) *store.Series {
	m := store.Match{
		MatchID:         8261500001,
		GameNumber:      1,
		DurationSeconds: seconds,
		State:           store.StateInProgress,
		Radiant:         store.Team{Name: "Team_Spirit"},
		Dire:            store.Team{Name: "Tundra"},
	}
	m.SetScore(radiantKills, direKills)
	return &store.Series{
		Key:             "900",
		LeagueName:      "Mad Dogs League",
		SeriesType:      store.SeriesBo3,
		RadiantTeamName: "Team_Spirit",
		DireTeamName:    "Tundra",
		Matches:         []store.Match{m},
	}
}

func updated(s *store.Series) reconciliation.Event {
	return reconciliation.Event{Type: reconciliation.EventMatchUpdated, SeriesKey: s.Key, MatchID: s.Matches[0].MatchID, Series: s}
}

func TestTelegram(t *testing.T) {
	Convey("Given a notifier with the default alert window", t, func() {
		sender := &recordingSender{}
		n := NewTelegramWithSender(sender, 42, odds.NewEnricher(nil, odds.DefaultAlertConfig()), zerolog.New(io.Discard))
		ctx := context.Background()

		Convey("When a series starts", func() {
			s := liveSeries(0, 0, 0)
			So(n.Handle(ctx, reconciliation.Event{Type: reconciliation.EventSeriesStarted, Series: s}), ShouldBeNil)

			Convey("Then the opening is announced with escaped names", func() {
				So(len(sender.texts), ShouldEqual, 1)
				So(sender.texts[0], ShouldContainSubstring, "New live series")
				So(sender.texts[0], ShouldContainSubstring, `Team\_Spirit`)
				So(sender.texts[0], ShouldContainSubstring, "Bo3")
			})
		})

		Convey("When a quiet game enters the window", func() {
			s := liveSeries(610, 3, 4)
			So(n.Handle(ctx, updated(s)), ShouldBeNil)
			So(n.Handle(ctx, updated(liveSeries(640, 4, 4))), ShouldBeNil)

			Convey("Then one alert is sent for the match", func() {
				So(len(sender.texts), ShouldEqual, 1)
				So(sender.texts[0], ShouldContainSubstring, "only 7 kills")
				So(sender.texts[0], ShouldContainSubstring, "10:10")
			})
		})

		Convey("When the game is bloody or outside the window", func() {
			So(n.Handle(ctx, updated(liveSeries(620, 6, 6))), ShouldBeNil)
			So(n.Handle(ctx, updated(liveSeries(300, 1, 0))), ShouldBeNil)
			So(sender.texts, ShouldBeEmpty)
		})

		Convey("When sending fails", func() {
			sender.fail = errors.New("bad gateway")
			So(n.Handle(ctx, updated(liveSeries(610, 3, 4))), ShouldNotBeNil)

			Convey("Then the alert is retried on the next update", func() {
				sender.fail = nil
				So(n.Handle(ctx, updated(liveSeries(620, 3, 4))), ShouldBeNil)
				So(len(sender.texts), ShouldEqual, 1)
			})
		})

		Convey("When a series completes", func() {
			s := liveSeries(2400, 20, 30)
			s.DireScore = 2
			s.Completed = true
			So(n.Handle(ctx, reconciliation.Event{Type: reconciliation.EventSeriesCompleted, Series: s}), ShouldBeNil)

			So(sender.texts[0], ShouldContainSubstring, "*Tundra* 2-0")
			So(sender.texts[0], ShouldContainSubstring, "50 kills over 1 games")
		})

		Convey("When the alert memory expires", func() {
			now := time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)
			n.now = func() time.Time { return now }
			So(n.markAlerted(1), ShouldBeTrue)
			So(n.markAlerted(1), ShouldBeFalse)
			now = now.Add(25 * time.Hour)
			So(n.markAlerted(1), ShouldBeTrue)
		})
	})
}
