package projection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/projection"
	"github.com/okian/matchday/internal/domain/resolver"
	"github.com/okian/matchday/internal/domain/scoring"
)

var kickoff = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

func goal(matchID, id, player string, minute int) model.CanonicalEvent {
	return model.CanonicalEvent{
		EventID: id, MatchID: matchID, PlayerID: player, SportID: "football", EventType: "GOAL",
		Timestamp: kickoff.Add(time.Duration(minute) * time.Minute), Minute: minute, ProviderID: "x",
	}
}

func setup(store ledger.Store, matches ...string) (*resolver.Resolver, *projection.Builder) {
	reg := scoring.NewRegistry()
	So(reg.Publish(scoring.RuleSet{SportID: "football", Version: 1, Rules: []scoring.Rule{
		{ID: "goal", EventType: "GOAL", BasePoints: decimal.NewFromInt(10)},
	}}), ShouldBeNil)
	r := resolver.New(store, reg)
	b := projection.NewBuilder(store)
	r.OnAppend(b.OnAppend)
	for _, id := range matches {
		So(r.Schedule(context.Background(), model.MatchInfo{
			MatchID: id, SportID: "football", LeagueID: "l1", SeasonID: "s1", RulesetVersion: 1,
		}), ShouldBeNil)
	}
	return r, b
}

// tampered rewrites one stored entry on read so its hash no longer matches.
type tampered struct {
	ledger.Store
	seq int64
}

func (t tampered) Read(ctx context.Context, matchID string, from, to int64) ([]ledger.Entry, error) {
	entries, err := t.Store.Read(ctx, matchID, from, to)
	for i := range entries {
		if entries[i].Seq == t.seq && entries[i].Event != nil {
			ev := *entries[i].Event
			ev.Minute = 99
			entries[i].Event = &ev
		}
	}
	return entries, err
}

func TestScenarioAGolden(t *testing.T) {
	ctx := context.Background()

	Convey("Given two goals by p1 under GOAL=10", t, func() {
		store := ledger.NewMemoryStore()
		r, b := setup(store, "m1")
		_, err := r.Accept(ctx, goal("m1", "e1", "p1", 10))
		So(err, ShouldBeNil)
		_, err = r.Accept(ctx, goal("m1", "e2", "p1", 20))
		So(err, ShouldBeNil)

		live, err := b.Match(ctx, "m1", 0)
		So(err, ShouldBeNil)

		Convey("Then the player line is 20 with two 10-point entries", func() {
			line := live.Players["p1"]
			So(line.Total.String(), ShouldEqual, "20")
			So(line.Breakdown, ShouldHaveLength, 2)
			So(line.Breakdown[0].Points.String(), ShouldEqual, "10")
			So(line.Breakdown[1].Points.String(), ShouldEqual, "10")

			view := live.Clone()
			view.HeadHash = ""
			out, err := view.Canonical()
			So(err, ShouldBeNil)
			goldie.New(t).Assert(t, "scenario_a", out)
		})

		Convey("Then a fold from genesis is bit-identical to the incremental projection", func() {
			entries, err := store.Read(ctx, "m1", 1, 0)
			So(err, ShouldBeNil)
			folded, err := projection.Fold("m1", entries)
			So(err, ShouldBeNil)
			a, _ := live.Canonical()
			c, _ := folded.Canonical()
			So(string(c), ShouldEqual, string(a))

			fresh := projection.NewBuilder(store)
			rebuilt, err := fresh.Match(ctx, "m1", 0)
			So(err, ShouldBeNil)
			d, _ := rebuilt.Canonical()
			So(string(d), ShouldEqual, string(a))
		})

		Convey("Then historical reads stop at the requested version", func() {
			p, err := b.Match(ctx, "m1", 4)
			So(err, ShouldBeNil)
			So(p.LedgerVersion, ShouldEqual, 4)
			So(p.Players["p1"].Total.String(), ShouldEqual, "10")
		})

		Convey("Then unknown matches are not found", func() {
			_, err := b.Match(ctx, "nope", 0)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the second goal is voided", func() {
			_, err := r.ApplyCorrection(ctx, resolver.CorrectionRequest{
				CorrectionID: "c1", MatchID: "m1", TargetEventID: "e2", Reason: "VAR_OVERTURNED",
				Change: model.ProposedChange{Action: model.ActionVoid},
			})
			So(err, ShouldBeNil)

			Convey("Then the projection and season follow the compensation", func() {
				p, err := b.Match(ctx, "m1", 0)
				So(err, ShouldBeNil)
				So(p.Players["p1"].Total.String(), ShouldEqual, "10")
				So(p.Corrections, ShouldResemble, []string{"c1"})
				last := p.Players["p1"].Breakdown[2]
				So(last.Points.String(), ShouldEqual, "-10")
				So(last.Compensates, ShouldEqual, 6)

				ps, err := b.PlayerSeason(ctx, "s1", "p1")
				So(err, ShouldBeNil)
				So(ps.Total.String(), ShouldEqual, "10")
			})
		})
	})
}

func TestSeasonAndRebuild(t *testing.T) {
	ctx := context.Background()

	Convey("Given goals across two matches of a season", t, func() {
		store := ledger.NewMemoryStore()
		r, b := setup(store, "m1", "m2", "m3")
		for _, ev := range []model.CanonicalEvent{
			goal("m1", "e1", "p1", 5),
			goal("m1", "e2", "p2", 6),
			goal("m2", "e3", "p1", 7),
			goal("m3", "e4", "p3", 8),
			goal("m3", "e5", "p3", 9),
		} {
			_, err := r.Accept(ctx, ev)
			So(err, ShouldBeNil)
		}

		Convey("Then season totals sum the matches", func() {
			ps, err := b.PlayerSeason(ctx, "s1", "p1")
			So(err, ShouldBeNil)
			So(ps.Total.String(), ShouldEqual, "20")
			So(ps.Matches, ShouldHaveLength, 2)

			table, err := b.Season(ctx, "s1", 10)
			So(err, ShouldBeNil)
			So(table, ShouldHaveLength, 3)
			So(table[0].PlayerID, ShouldEqual, "p1")
			So(table[0].Rank, ShouldEqual, 1)
			So(table[1].PlayerID, ShouldEqual, "p3")
			So(table[1].Rank, ShouldEqual, 1)
			So(table[2].Rank, ShouldEqual, 3)

			st, err := b.Rank(ctx, "s1", "p2")
			So(err, ShouldBeNil)
			So(st.Rank, ShouldEqual, 3)
			So(len(b.SeasonMatches(ctx, "s1")), ShouldEqual, 3)
		})

		Convey("Then a full parallel rebuild reproduces every projection", func() {
			fresh := projection.NewBuilder(store, projection.WithPartitions(2))
			So(fresh.RebuildAll(ctx), ShouldBeNil)
			for _, id := range []string{"m1", "m2", "m3"} {
				a, err := b.Match(ctx, id, 0)
				So(err, ShouldBeNil)
				c, err := fresh.Match(ctx, id, 0)
				So(err, ShouldBeNil)
				x, _ := a.Canonical()
				y, _ := c.Canonical()
				So(string(y), ShouldEqual, string(x))
			}
			ps, err := fresh.PlayerSeason(ctx, "s1", "p3")
			So(err, ShouldBeNil)
			So(ps.Total.String(), ShouldEqual, "20")
		})

		Convey("Then invalid standings limits are rejected", func() {
			_, err := b.Season(ctx, "s1", 0)
			So(errors.Is(err, projection.ErrInvalidLimit), ShouldBeTrue)
		})
	})
}

func TestStaleFallback(t *testing.T) {
	ctx := context.Background()

	Convey("Given a snapshot taken after the first goal", t, func() {
		store := ledger.NewMemoryStore()
		snaps := projection.NewMemorySnapshots()
		reg := scoring.NewRegistry()
		So(reg.Publish(scoring.RuleSet{SportID: "football", Version: 1, Rules: []scoring.Rule{
			{ID: "goal", EventType: "GOAL", BasePoints: decimal.NewFromInt(10)},
		}}), ShouldBeNil)
		r := resolver.New(store, reg)
		b := projection.NewBuilder(store, projection.WithSnapshotStore(snaps))
		r.OnAppend(b.OnAppend)
		So(r.Schedule(ctx, model.MatchInfo{MatchID: "m1", SportID: "football", SeasonID: "s1", RulesetVersion: 1}), ShouldBeNil)
		_, err := r.Accept(ctx, goal("m1", "e1", "p1", 10))
		So(err, ShouldBeNil)
		So(b.Snapshot(ctx), ShouldBeNil)
		_, err = r.Accept(ctx, goal("m1", "e2", "p1", 20))
		So(err, ShouldBeNil)

		Convey("When the ledger entry after the snapshot fails verification", func() {
			broken := projection.NewBuilder(tampered{Store: store, seq: 5}, projection.WithSnapshotStore(snaps))
			p, err := broken.Match(ctx, "m1", 0)

			Convey("Then the last verifiable projection is served flagged stale", func() {
				var rf *model.ProjectionRebuildFailure
				So(errors.As(err, &rf), ShouldBeTrue)
				So(rf.FailedAt, ShouldEqual, 5)
				So(rf.ServedAsOf, ShouldEqual, 4)
				So(errors.Is(err, ledger.ErrChainMismatch), ShouldBeTrue)
				So(p.Stale, ShouldBeTrue)
				So(p.LedgerVersion, ShouldEqual, 4)
				So(p.Players["p1"].Total.String(), ShouldEqual, "10")
			})
		})

		Convey("Then later snapshots are kept alongside earlier ones", func() {
			So(b.Snapshot(ctx), ShouldBeNil)
			s, err := snaps.Load(ctx, "m1", 0)
			So(err, ShouldBeNil)
			So(s.LedgerVersion, ShouldEqual, 6)
			old, err := snaps.Load(ctx, "m1", 5)
			So(err, ShouldBeNil)
			So(old.LedgerVersion, ShouldEqual, 4)
		})
	})
}
