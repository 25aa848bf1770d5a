package tiebreak_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/projection"
	"github.com/okian/matchday/internal/domain/tiebreak"
)

// fakeSource serves fixed season totals and match lines.
type fakeSource struct {
	totals  map[string]int64
	played  map[string]int
	matches []*projection.MatchProjection
}

func (f fakeSource) PlayerSeason(_ context.Context, seasonID, playerID string) (projection.PlayerSeasonProjection, error) {
	t, ok := f.totals[playerID]
	if !ok {
		return projection.PlayerSeasonProjection{}, fmt.Errorf("%w: %s", model.ErrNotFound, playerID)
	}
	ps := projection.PlayerSeasonProjection{PlayerID: playerID, SeasonID: seasonID, Total: decimal.NewFromInt(t), Matches: map[string]decimal.Decimal{}}
	for i := 0; i < f.played[playerID]; i++ {
		ps.Matches[fmt.Sprintf("m%d", i)] = decimal.Zero
	}
	return ps, nil
}

func (f fakeSource) SeasonMatches(context.Context, string) []*projection.MatchProjection {
	return f.matches
}

func match(id, round string, lines map[string]int64) *projection.MatchProjection {
	m := projection.NewMatchProjection(id)
	m.SeasonID, m.RoundID = "s1", round
	for p, v := range lines {
		m.Players[p] = &projection.PlayerLine{PlayerID: p, Total: decimal.NewFromInt(v)}
	}
	return m
}

func teams() []tiebreak.Entity {
	return []tiebreak.Entity{
		{ID: "A", Starters: []string{"a1", "a2"}, Reserves: []string{"ar"}, KeyPlayer: "a1"},
		{ID: "B", Starters: []string{"b1", "b2"}, Reserves: []string{"br"}, KeyPlayer: "b1"},
	}
}

func TestScenarioESeededDraw(t *testing.T) {
	ctx := context.Background()

	Convey("Given two teams level on reserves and head-to-head", t, func() {
		src := fakeSource{
			totals:  map[string]int64{"ar": 12, "br": 12, "a1": 30, "b1": 30},
			matches: []*projection.MatchProjection{match("f1", "r1", map[string]int64{"a1": 10, "b1": 10})},
		}
		log := audit.NewMemoryLog()
		r := tiebreak.New(src, tiebreak.WithAuditLog(log))
		So(r.Configure(tiebreak.Config{
			LeagueID: "l1",
			Phases:   map[tiebreak.Phase][]tiebreak.Criterion{tiebreak.PhaseRegular: {tiebreak.ReserveTotal, tiebreak.HeadToHead, tiebreak.SeededDraw}},
		}), ShouldBeNil)
		req := tiebreak.Request{
			LeagueID: "l1", SeasonID: "s1", RoundID: "r9", Phase: tiebreak.PhaseRegular,
			Entities: teams(),
			Fixtures: []tiebreak.Fixture{{ID: "fx1", A: "A", B: "B", MatchIDs: []string{"f1"}}},
		}

		res, err := r.Resolve(ctx, req)
		So(err, ShouldBeNil)

		Convey("Then the seeded draw decides and is reproducible", func() {
			So(res.Decisions, ShouldHaveLength, 3)
			So(res.Decisions[0].Criterion, ShouldEqual, tiebreak.ReserveTotal)
			So(res.Decisions[0].Outcome, ShouldHaveLength, 1)
			So(res.Decisions[1].Criterion, ShouldEqual, tiebreak.HeadToHead)
			So(res.Decisions[1].Values["A"], ShouldEqual, "1")
			So(res.Decisions[2].Criterion, ShouldEqual, tiebreak.SeededDraw)

			seed := tiebreak.Seed("l1", "s1", "r9", tiebreak.PhaseRegular)
			So(res.Seed, ShouldEqual, seed)
			want := []string{"A", "B"}
			if tiebreak.DrawKey(seed, "B") < tiebreak.DrawKey(seed, "A") {
				want = []string{"B", "A"}
			}
			So(res.Ranking, ShouldResemble, want)

			again, err := r.Resolve(ctx, req)
			So(err, ShouldBeNil)
			So(again.Ranking, ShouldResemble, res.Ranking)
		})

		Convey("Then the resolution is audited", func() {
			recs, err := log.List(ctx, audit.Filter{Kind: audit.KindTieBreak})
			So(err, ShouldBeNil)
			So(recs, ShouldHaveLength, 1)
			So(recs[0].Reason, ShouldEqual, "seededDraw")
		})
	})
}

func TestCriteria(t *testing.T) {
	ctx := context.Background()

	Convey("Given the default regular chain", t, func() {
		Convey("When reserve totals differ", func() {
			src := fakeSource{totals: map[string]int64{"ar": 5, "br": 9}}
			res, err := tiebreak.New(src).Resolve(ctx, tiebreak.Request{SeasonID: "s1", Entities: teams()})
			So(err, ShouldBeNil)

			Convey("Then the higher reserve total ranks first and nothing else runs", func() {
				So(res.Ranking, ShouldResemble, []string{"B", "A"})
				So(res.Decisions, ShouldHaveLength, 1)
			})
		})

		Convey("When only the key player differs", func() {
			src := fakeSource{totals: map[string]int64{"a1": 40, "b1": 35}}
			res, err := tiebreak.New(src).Resolve(ctx, tiebreak.Request{SeasonID: "s1", Entities: teams()})
			So(err, ShouldBeNil)
			So(res.Ranking, ShouldResemble, []string{"A", "B"})
			So(res.Decisions[1].Criterion, ShouldEqual, tiebreak.KeyPlayer)
		})

		Convey("When a head-to-head fixture was won", func() {
			src := fakeSource{matches: []*projection.MatchProjection{
				match("f1", "r1", map[string]int64{"a1": 4, "b1": 7, "b2": 1}),
			}}
			res, err := tiebreak.New(src).Resolve(ctx, tiebreak.Request{
				SeasonID: "s1", Entities: teams(),
				Fixtures: []tiebreak.Fixture{{ID: "fx", A: "A", B: "B", MatchIDs: []string{"f1"}}},
			})
			So(err, ShouldBeNil)
			So(res.Ranking, ShouldResemble, []string{"B", "A"})
			So(res.Decisions[2].Values["B"], ShouldEqual, "3")
		})

		Convey("When advanced metrics separate per-match averages", func() {
			src := fakeSource{
				totals: map[string]int64{"a2": 30, "b2": 30},
				played: map[string]int{"a2": 3, "b2": 2},
			}
			res, err := tiebreak.New(src).Resolve(ctx, tiebreak.Request{SeasonID: "s1", Entities: teams()})
			So(err, ShouldBeNil)
			So(res.Ranking, ShouldResemble, []string{"B", "A"})
			So(res.Decisions[3].Criterion, ShouldEqual, tiebreak.AdvancedMetrics)
		})
	})

	Convey("Given the playoff chain", t, func() {
		Convey("When round scoring rates differ", func() {
			src := fakeSource{matches: []*projection.MatchProjection{
				match("p1", "final", map[string]int64{"a1": 9, "b1": 6}),
				match("p0", "semi", map[string]int64{"b1": 50}),
			}}
			res, err := tiebreak.New(src).Resolve(ctx, tiebreak.Request{
				SeasonID: "s1", RoundID: "final", Phase: tiebreak.PhasePlayoff, Entities: teams(),
			})
			So(err, ShouldBeNil)

			Convey("Then the virtual extension projects 30 of 90 minutes", func() {
				So(res.Ranking, ShouldResemble, []string{"A", "B"})
				So(res.Decisions[0].Values["A"], ShouldEqual, "3")
				So(res.Decisions[0].Values["B"], ShouldEqual, "2")
			})
		})

		Convey("When the extension ties but the second-best starter differs", func() {
			src := fakeSource{totals: map[string]int64{"a1": 20, "a2": 3, "b1": 20, "b2": 8}}
			res, err := tiebreak.New(src).Resolve(ctx, tiebreak.Request{
				SeasonID: "s1", Phase: tiebreak.PhasePlayoff, Entities: teams(),
			})
			So(err, ShouldBeNil)
			So(res.Ranking, ShouldResemble, []string{"B", "A"})
			So(res.Decisions[1].Criterion, ShouldEqual, tiebreak.SuddenDeath)
			So(res.Decisions[1].Values["tier"], ShouldEqual, "2")
		})
	})

	Convey("Given three entities where one separates early", t, func() {
		ents := append(teams(), tiebreak.Entity{ID: "C", Reserves: []string{"cr"}})
		src := fakeSource{totals: map[string]int64{"cr": 50}}
		res, err := tiebreak.New(src).Resolve(ctx, tiebreak.Request{SeasonID: "s1", Entities: ents})
		So(err, ShouldBeNil)

		Convey("Then only the remaining pair walks the rest of the chain", func() {
			So(res.Ranking[0], ShouldEqual, "C")
			So(res.Ranking, ShouldHaveLength, 3)
			for _, d := range res.Decisions[1:] {
				So(d.Group, ShouldResemble, []string{"A", "B"})
			}
		})
	})
}

func TestValidation(t *testing.T) {
	Convey("Given invalid input", t, func() {
		r := tiebreak.New(fakeSource{})

		Convey("Then unknown criteria are refused", func() {
			err := r.Configure(tiebreak.Config{Phases: map[tiebreak.Phase][]tiebreak.Criterion{tiebreak.PhaseRegular: {"coinFlip"}}})
			So(errors.Is(err, tiebreak.ErrUnknownCriterion), ShouldBeTrue)
		})

		Convey("Then unknown phases are refused", func() {
			_, err := r.Resolve(context.Background(), tiebreak.Request{SeasonID: "s1", Phase: "friendly", Entities: teams()})
			So(errors.Is(err, tiebreak.ErrUnknownPhase), ShouldBeTrue)
		})

		Convey("Then duplicate entities are refused", func() {
			ents := append(teams(), teams()[0])
			_, err := r.Resolve(context.Background(), tiebreak.Request{SeasonID: "s1", Entities: ents})
			So(errors.Is(err, tiebreak.ErrInvalidRequest), ShouldBeTrue)
		})
	})
}
