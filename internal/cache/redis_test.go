package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/fortuna/aegis/internal/store"
)

func TestRedisPersister(t *testing.T) {
	Convey("Given a persister backed by an in-process redis", t, func() {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		p := NewRedisPersisterFromClient(client)
		ctx := context.Background()

		Convey("When nothing was saved yet", func() {
			docs, err := p.Load(ctx)

			Convey("Then empty documents are returned", func() {
				So(err, ShouldBeNil)
				So(docs.Live, ShouldBeEmpty)
				So(docs.Master, ShouldBeEmpty)
			})
		})

		Convey("When a snapshot is saved and loaded back", func() {
			s := NewStore()
			live := newSeries("50", 100)
			live.RadiantTeamID = store.Int64Ptr(15)
			So(s.UpsertLive(live), ShouldBeNil)
			So(s.UpsertLive(newSeries("51", 110)), ShouldBeNil)
			So(s.MoveToCompleted("51", time.Now()), ShouldBeNil)

			So(p.Save(ctx, s.Snapshot()), ShouldBeNil)
			docs, err := p.Load(ctx)
			So(err, ShouldBeNil)

			Convey("Then the writer uses the *_team_id layout", func() {
				raw, err := mr.Get("aegis:cache:live")
				So(err, ShouldBeNil)
				So(raw, ShouldContainSubstring, `"radiant_team_id":15`)
			})

			Convey("Then a fresh store restores both projections", func() {
				restored := NewStore()
				So(restored.Restore(docs), ShouldEqual, 2)
				So(len(restored.ListLive()), ShouldEqual, 1)
				So(len(restored.ListCompleted(CompletedFilter{})), ShouldEqual, 1)
			})
		})

		Convey("When a legacy document names ids radiant_id and dire_id", func() {
			mr.Set("aegis:cache:master", `{"77":{"key":"77","radiant_id":1,"dire_id":2,"radiant_team_name":"A","dire_team_name":"B","matches":[]}}`)
			docs, err := p.Load(ctx)

			Convey("Then the ids are read into the canonical fields", func() {
				So(err, ShouldBeNil)
				So(*docs.Master["77"].RadiantTeamID, ShouldEqual, 1)
				So(*docs.Master["77"].DireTeamID, ShouldEqual, 2)
			})
		})
	})
}
