package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/matchday/internal/app"
	"github.com/okian/matchday/internal/config"
	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/correction"
	"github.com/okian/matchday/internal/domain/ingest"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/tiebreak"
	"github.com/okian/matchday/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var kickoff = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.New(context.Background())
	cfg.RulesDir = filepath.Join("..", "..", "rules")
	cfg.WorkerCount = 2
	cfg.SnapshotIntervalMS = 0
	return cfg
}

func goal(id, player, provider string, minute int) model.CanonicalEvent {
	return model.CanonicalEvent{
		EventID: id, MatchID: "m1", PlayerID: player, SportID: "football", EventType: "GOAL",
		Timestamp: kickoff.Add(time.Duration(minute) * time.Minute), Minute: minute, ProviderID: provider,
	}
}

func start(cfg *config.Config) *service.Service {
	svc := service.New(cfg)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func schedule(svc *service.Service) {
	So(svc.Resolver().Schedule(context.Background(), model.MatchInfo{
		MatchID: "m1", SportID: "football", LeagueID: "l1", SeasonID: "s1", RoundID: "r1", RulesetVersion: 1,
	}), ShouldBeNil)
}

func total(svc *service.Service, player string) string {
	p, err := svc.Projections().Match(context.Background(), "m1", 0)
	So(err, ShouldBeNil)
	line, ok := p.Players[player]
	if !ok {
		return "0"
	}
	return line.Total.String()
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service with default options", t, func() {
		svc := service.New(nil)

		Convey("Then stats report it stopped", func() {
			So(svc.GetStats()["started"], ShouldBeFalse)
			So(svc.Stop(context.Background()), ShouldBeNil)
		})
	})

	Convey("Given a started service", t, func() {
		svc := start(testConfig())
		defer func() { So(svc.Stop(context.Background()), ShouldBeNil) }()

		Convey("Then every component is wired", func() {
			So(svc.Hub(), ShouldNotBeNil)
			So(svc.Resolver().Rules().Sports(), ShouldContain, "football")
			deps := svc.API()
			So(deps.Ingest, ShouldNotBeNil)
			So(deps.Corrections, ShouldNotBeNil)
			So(deps.MaxLimit, ShouldEqual, 100)

			stats := svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["matches"], ShouldEqual, 0)
		})

		Convey("Then starting twice is a no-op", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
		})
	})

	Convey("Given a rules directory that does not exist", t, func() {
		cfg := testConfig()
		cfg.RulesDir = filepath.Join(t.TempDir(), "missing")
		svc := service.New(cfg)

		Convey("Then Start fails", func() {
			So(svc.Start(context.Background()), ShouldNotBeNil)
		})
	})
}

func TestService_Scoring(t *testing.T) {
	ctx := context.Background()

	Convey("Given a scheduled football match", t, func() {
		svc := start(testConfig())
		defer func() { So(svc.Stop(ctx), ShouldBeNil) }()
		schedule(svc)

		Convey("When p1 scores twice", func() {
			r1, err := svc.Ingest().Submit(ctx, goal("e1", "p1", "opta", 10))
			So(err, ShouldBeNil)
			_, err = svc.Ingest().Submit(ctx, goal("e2", "p1", "opta", 30))
			So(err, ShouldBeNil)

			Convey("Then the projection and the season total read 20", func() {
				So(r1.Status, ShouldEqual, ingest.StatusAccepted)
				So(total(svc, "p1"), ShouldEqual, "20")
				ps, err := svc.Projections().PlayerSeason(ctx, "s1", "p1")
				So(err, ShouldBeNil)
				So(ps.Total.String(), ShouldEqual, "20")
				st, err := svc.Projections().Rank(ctx, "s1", "p1")
				So(err, ShouldBeNil)
				So(st.Rank, ShouldEqual, 1)
			})

			Convey("Then a redelivered event is a duplicate and scores nothing", func() {
				rec, err := svc.Ingest().Submit(ctx, goal("e1", "p1", "opta", 10))
				So(errors.Is(err, model.ErrDuplicateEvent), ShouldBeTrue)
				So(rec.Status, ShouldEqual, ingest.StatusDuplicate)
				So(total(svc, "p1"), ShouldEqual, "20")
			})

			Convey("Then an event far behind the match clock is quarantined", func() {
				rec, err := svc.Ingest().Submit(ctx, goal("e3", "p2", "opta", 3))
				var qe *model.QuarantineError
				So(errors.As(err, &qe), ShouldBeTrue)
				So(qe.Reason, ShouldEqual, model.ReasonOutOfTolerance)
				So(rec.Status, ShouldEqual, ingest.StatusQuarantined)
				So(total(svc, "p2"), ShouldEqual, "0")

				Convey("And an operator approval releases it into the ledger", func() {
					_, err := svc.Ingest().ApproveQuarantine(ctx, rec.QuarantineID, "ops", "clock drift")
					So(err, ShouldBeNil)
					So(total(svc, "p2"), ShouldEqual, "10")
					recs, err := svc.Audit().List(ctx, audit.Filter{Subject: rec.QuarantineID})
					So(err, ShouldBeNil)
					So(len(recs), ShouldBeGreaterThanOrEqualTo, 2)
				})
			})

			Convey("And a correction voiding the second goal is approved by both tiers", func() {
				c, err := svc.Corrections().Submit(ctx, correction.Request{
					MatchID: "m1", TargetEventID: "e2", Reason: "VAR_OVERTURNED",
					Change: model.ProposedChange{Action: model.ActionVoid}, RequestedBy: "var-desk",
				})
				So(err, ShouldBeNil)
				So(c.AfterState["p1"].String(), ShouldEqual, "10")
				_, err = svc.Corrections().Approve(ctx, c.CorrectionID, "comm-1", model.RoleCommissioner)
				So(err, ShouldBeNil)
				done, err := svc.Corrections().Approve(ctx, c.CorrectionID, "admin-1", model.RoleAdmin)
				So(err, ShouldBeNil)

				Convey("Then projections and standings follow the compensation", func() {
					So(done.Status, ShouldEqual, model.CorrectionApplied)
					So(total(svc, "p1"), ShouldEqual, "10")
					ps, err := svc.Projections().PlayerSeason(ctx, "s1", "p1")
					So(err, ShouldBeNil)
					So(ps.Total.String(), ShouldEqual, "10")
				})
			})
		})
	})
}

func TestService_DedupeWindowExpiry(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service whose idempotency window is a millisecond", t, func() {
		cfg := testConfig()
		cfg.DedupeWindowMS = 1
		svc := start(cfg)
		defer func() { So(svc.Stop(ctx), ShouldBeNil) }()
		schedule(svc)

		first, err := svc.Ingest().Submit(ctx, goal("e1", "p1", "opta", 10))
		So(err, ShouldBeNil)

		Convey("When the event is redelivered after the window has passed", func() {
			time.Sleep(20 * time.Millisecond)
			rec, err := svc.Ingest().Submit(ctx, goal("e1", "p1", "opta", 10))

			Convey("Then the ledger still recognises it and nothing is scored twice", func() {
				So(errors.Is(err, model.ErrDuplicateEvent), ShouldBeTrue)
				So(rec.Status, ShouldEqual, ingest.StatusDuplicate)
				So(rec.Sequence, ShouldEqual, first.Sequence)
				So(total(svc, "p1"), ShouldEqual, "10")
				st, err := svc.Resolver().Status(ctx, "m1")
				So(err, ShouldBeNil)
				So(st.Events, ShouldEqual, 1)
			})
		})
	})
}

func TestService_TieBreak(t *testing.T) {
	ctx := context.Background()

	Convey("Given two teams with no scored players", t, func() {
		svc := start(testConfig())
		defer func() { So(svc.Stop(ctx), ShouldBeNil) }()
		req := tiebreak.Request{
			LeagueID: "l1", SeasonID: "s1", RoundID: "r9", Phase: tiebreak.PhaseRegular,
			Entities: []tiebreak.Entity{
				{ID: "A", Starters: []string{"a1"}, Reserves: []string{"ar"}, KeyPlayer: "a1"},
				{ID: "B", Starters: []string{"b1"}, Reserves: []string{"br"}, KeyPlayer: "b1"},
			},
		}

		res, err := svc.TieBreak().Resolve(ctx, req)
		So(err, ShouldBeNil)

		Convey("Then the seeded draw decides reproducibly", func() {
			last := res.Decisions[len(res.Decisions)-1]
			So(last.Criterion, ShouldEqual, tiebreak.SeededDraw)
			So(res.Seed, ShouldEqual, tiebreak.Seed("l1", "s1", "r9", tiebreak.PhaseRegular))
			again, err := svc.TieBreak().Resolve(ctx, req)
			So(err, ShouldBeNil)
			So(again.Ranking, ShouldResemble, res.Ranking)
		})

		Convey("Then it is audited", func() {
			recs, err := svc.Audit().List(ctx, audit.Filter{Kind: audit.KindTieBreak})
			So(err, ShouldBeNil)
			So(recs, ShouldHaveLength, 1)
		})
	})
}

func TestService_ProviderQueue(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service consuming provider queues", t, func() {
		svc := start(testConfig())
		defer func() { So(svc.Stop(ctx), ShouldBeNil) }()
		schedule(svc)

		Convey("When a goal is enqueued for a provider", func() {
			_, err := svc.Queue().Enqueue(ctx, "sportradar", goal("q1", "p9", "sportradar", 12))
			So(err, ShouldBeNil)

			Convey("Then a consumer scores it", func() {
				So(eventually(func() bool {
					p, err := svc.Projections().Match(ctx, "m1", 0)
					return err == nil && p.Players["p9"] != nil && p.Players["p9"].Total.String() == "10"
				}), ShouldBeTrue)
				So(eventually(func() bool { return svc.Queue().Len(ctx, "sportradar") == 0 }), ShouldBeTrue)
			})
		})
	})
}
