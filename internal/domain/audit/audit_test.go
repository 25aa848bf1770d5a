package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/matchday/internal/domain/audit"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemoryLog(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory audit log", t, func() {
		log := audit.NewMemoryLog()

		Convey("When records are appended", func() {
			q, err := log.Append(ctx, audit.Record{Kind: audit.KindQuarantine, MatchID: "m1", Subject: "x/e9",
				Action: audit.ActionQuarantined, Reason: "uncorroborated"})
			So(err, ShouldBeNil)
			_, err = log.Append(ctx, audit.Record{Kind: audit.KindCorrection, MatchID: "m1", Subject: "c1",
				Action: audit.ActionApplied, Reason: "VAR_OVERTURNED", Before: audit.JSON(map[string]string{"p1": "20"})})
			So(err, ShouldBeNil)
			_, err = log.Append(ctx, audit.Record{Kind: audit.KindCorrection, MatchID: "m2", Subject: "c2", Action: audit.ActionRejected})
			So(err, ShouldBeNil)

			Convey("Then ids and timestamps are assigned", func() {
				So(q.ID, ShouldNotBeEmpty)
				So(q.At.IsZero(), ShouldBeFalse)
				got, err := log.Get(ctx, q.ID)
				So(err, ShouldBeNil)
				So(got.Reason, ShouldEqual, "uncorroborated")
			})

			Convey("Then filters narrow the export", func() {
				all, _ := log.List(ctx, audit.Filter{})
				So(all, ShouldHaveLength, 3)
				corrections, _ := log.List(ctx, audit.Filter{Kind: audit.KindCorrection, MatchID: "m1"})
				So(corrections, ShouldHaveLength, 1)
				So(string(corrections[0].Before), ShouldEqual, `{"p1":"20"}`)
				limited, _ := log.List(ctx, audit.Filter{Limit: 1})
				So(limited[0].Subject, ShouldEqual, "x/e9")
				future, _ := log.List(ctx, audit.Filter{Since: time.Now().Add(time.Hour)})
				So(future, ShouldBeEmpty)
			})

			Convey("Then a record id cannot be reused", func() {
				_, err := log.Append(ctx, audit.Record{ID: q.ID, Kind: audit.KindQuarantine})
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When an unknown id is requested", func() {
			_, err := log.Get(ctx, "missing")
			So(errors.Is(err, audit.ErrNotFound), ShouldBeTrue)
		})
	})
}
