package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/fortuna/aegis/internal/reconciliation"
	"github.com/fortuna/aegis/internal/service"
	"github.com/fortuna/aegis/internal/store"
)

type staticLive []service.SeriesView

func (s staticLive) Live(context.Context) []service.SeriesView { return s }

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func readMessage(conn *websocket.Conn) Message {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	So(err, ShouldBeNil)
	var msg Message
	So(json.Unmarshal(data, &msg), ShouldBeNil)
	return msg
}

func TestServer(t *testing.T) {
	Convey("Given a running push feed", t, func() {
		s := NewServer(":0", staticLive{{Key: "50", Status: "live", Format: "Bo3"}}, zerolog.New(io.Discard))
		go s.Hub().Run()
		defer s.Hub().Stop()

		ts := httptest.NewServer(s.Routes())
		defer ts.Close()
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/series/live"

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		defer conn.Close()

		Convey("When a client connects", func() {
			msg := readMessage(conn)

			Convey("Then it first receives the live snapshot", func() {
				So(msg.Type, ShouldEqual, "snapshot")
				So(len(msg.Series), ShouldEqual, 1)
				So(msg.Series[0].Key, ShouldEqual, "50")
				So(waitFor(func() bool { return s.Hub().ClientCount() == 1 }), ShouldBeTrue)
			})

			Convey("Then tracker events are pushed to it", func() {
				So(waitFor(func() bool { return s.Hub().ClientCount() == 1 }), ShouldBeTrue)
				ev := reconciliation.Event{
					Type:      reconciliation.EventSeriesCompleted,
					SeriesKey: "50",
					Series:    &store.Series{Key: "50", RadiantScore: 2, Completed: true},
					At:        time.Unix(1700000000, 0).UTC(),
				}
				So(s.Handle(context.Background(), ev), ShouldBeNil)

				got := readMessage(conn)
				So(got.Type, ShouldEqual, "series_completed")
				So(got.Event.SeriesKey, ShouldEqual, "50")
				So(got.Event.Series.RadiantScore, ShouldEqual, 2)
			})
		})

		Convey("When the client goes away", func() {
			readMessage(conn)
			So(waitFor(func() bool { return s.Hub().ClientCount() == 1 }), ShouldBeTrue)
			conn.Close()
			So(waitFor(func() bool { return s.Hub().ClientCount() == 0 }), ShouldBeTrue)
		})

		Convey("When health is requested", func() {
			readMessage(conn)
			So(waitFor(func() bool { return s.Hub().ClientCount() == 1 }), ShouldBeTrue)
			resp, err := ts.Client().Get(ts.URL + "/ws/health")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			var body map[string]interface{}
			So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
			So(body["clients"], ShouldEqual, 1)
		})
	})
}

func TestHubDropsSlowClients(t *testing.T) {
	Convey("Given a hub with a client that never drains", t, func() {
		h := NewHub(zerolog.New(io.Discard))
		go h.Run()
		defer h.Stop()

		c := &Client{id: "slow", hub: h, send: make(chan []byte, 1)}
		So(h.join(c), ShouldBeTrue)
		So(waitFor(func() bool { return h.ClientCount() == 1 }), ShouldBeTrue)

		Convey("When more is broadcast than it can buffer", func() {
			h.Broadcast([]byte("a"))
			h.Broadcast([]byte("b"))

			Convey("Then it is disconnected", func() {
				So(waitFor(func() bool { return h.ClientCount() == 0 }), ShouldBeTrue)
			})
		})
	})
}
