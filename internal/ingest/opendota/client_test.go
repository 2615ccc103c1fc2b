package opendota

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/fortuna/aegis/internal/ingest/upstream"
)

func TestMatch(t *testing.T) {
	Convey("Given a match endpoint", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/matches/100":
				w.Write([]byte(`{"match_id":100,"radiant_win":false,"duration":2100}`))
			case "/api/matches/101":
				w.Write([]byte(`{"error":"Not Found"}`))
			case "/api/leagues/17911/matches":
				w.Write([]byte(`[{"match_id":8012345678,"radiant_win":true},{"match_id":8012345690},{"radiant_win":false}]`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		c := New(srv.URL+"/api", upstream.New(2*time.Second), 0)

		Convey("When the match exists", func() {
			doc, err := c.Match(context.Background(), 100)
			So(err, ShouldBeNil)
			So(doc["radiant_win"], ShouldEqual, false)
		})

		Convey("When a league is listed", func() {
			ids, err := c.LeagueMatchIDs(context.Background(), 17911)
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []int64{8012345678, 8012345690})
		})

		Convey("When the provider has not parsed the match", func() {
			_, err := c.Match(context.Background(), 101)
			So(errors.Is(err, ErrNotParsed), ShouldBeTrue)

			_, err = c.Match(context.Background(), 102)
			So(errors.Is(err, ErrNotParsed), ShouldBeTrue)
		})
	})

	Convey("Given a spaced client", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"match_id":1}`))
		}))
		defer srv.Close()

		c := New(srv.URL, upstream.New(2*time.Second), time.Hour)
		_, err := c.Match(context.Background(), 1)
		So(err, ShouldBeNil)

		Convey("When the context ends before the next slot", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := c.Match(ctx, 1)

			Convey("Then the wait is abandoned", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})
		})
	})
}
