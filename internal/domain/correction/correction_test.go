package correction_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/correction"
	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/resolver"
	"github.com/okian/matchday/internal/domain/scoring"
)

var kickoff = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

func goal(id string, minute int) model.CanonicalEvent {
	return model.CanonicalEvent{
		EventID: id, MatchID: "m1", PlayerID: "p1", SportID: "football", EventType: "GOAL",
		Timestamp: kickoff.Add(time.Duration(minute) * time.Minute), Minute: minute, ProviderID: "x",
	}
}

func twoGoals() *resolver.Resolver {
	ctx := context.Background()
	reg := scoring.NewRegistry()
	So(reg.Publish(scoring.RuleSet{SportID: "football", Version: 1, Rules: []scoring.Rule{
		{ID: "goal", EventType: "GOAL", BasePoints: decimal.NewFromInt(10)},
	}}), ShouldBeNil)
	r := resolver.New(ledger.NewMemoryStore(), reg)
	So(r.Schedule(ctx, model.MatchInfo{MatchID: "m1", SportID: "football", RulesetVersion: 1}), ShouldBeNil)
	_, err := r.Accept(ctx, goal("e1", 10))
	So(err, ShouldBeNil)
	_, err = r.Accept(ctx, goal("e2", 30))
	So(err, ShouldBeNil)
	return r
}

func total(r *resolver.Resolver) string {
	st, err := r.Status(context.Background(), "m1")
	So(err, ShouldBeNil)
	return st.Totals["p1"].String()
}

type recorder struct{ seen []model.CorrectionStatus }

func (n *recorder) Notify(_ context.Context, c model.Correction) { n.seen = append(n.seen, c.Status) }

// stubApplier fails ApplyCorrection with err and delegates everything else.
type stubApplier struct {
	*resolver.Resolver
	err error
}

func (s stubApplier) ApplyCorrection(context.Context, resolver.CorrectionRequest) (resolver.Plan, error) {
	return resolver.Plan{}, s.err
}

var overturned = correction.Request{
	MatchID: "m1", TargetEventID: "e2", Reason: "VAR_OVERTURNED",
	Change: model.ProposedChange{Action: model.ActionVoid}, RequestedBy: "var-desk",
}

func TestScenarioD(t *testing.T) {
	ctx := context.Background()

	Convey("Given a match where p1 scored two goals", t, func() {
		r := twoGoals()
		log := audit.NewMemoryLog()
		notes := &recorder{}
		rebuilt := 0
		p := correction.New(r,
			correction.WithAuditLog(log),
			correction.WithNotifier(notes),
			correction.WithRebuilder(correction.RebuilderFunc(func(context.Context, string) error {
				rebuilt++
				return nil
			})))

		Convey("When a VAR correction voiding the second goal is submitted", func() {
			c, err := p.Submit(ctx, overturned)
			So(err, ShouldBeNil)

			Convey("Then the dry run projects -10 without touching the ledger", func() {
				So(c.Status, ShouldEqual, model.CorrectionPending)
				So(c.Deltas, ShouldHaveLength, 1)
				So(c.Deltas[0].Points.String(), ShouldEqual, "-10")
				So(c.BeforeState["p1"].String(), ShouldEqual, "20")
				So(c.AfterState["p1"].String(), ShouldEqual, "10")
				So(total(r), ShouldEqual, "20")
				st, _ := r.Status(ctx, "m1")
				So(st.Reviews, ShouldResemble, []string{model.ReviewCorrectionPfx + c.CorrectionID})
			})

			Convey("Then a second correction for the match conflicts", func() {
				_, err := p.Submit(ctx, correction.Request{
					MatchID: "m1", TargetEventID: "e1", Reason: "offside",
					Change: model.ProposedChange{Action: model.ActionVoid},
				})
				So(model.IsConflict(err), ShouldBeTrue)
			})

			Convey("Then a commissioner cannot sign the admin tier and nobody signs twice", func() {
				_, err := p.Approve(ctx, c.CorrectionID, "comm-1", model.RoleCommissioner)
				So(err, ShouldBeNil)
				_, err = p.Approve(ctx, c.CorrectionID, "comm-2", model.RoleCommissioner)
				So(errors.Is(err, correction.ErrInsufficientRole), ShouldBeTrue)
				_, err = p.Approve(ctx, c.CorrectionID, "comm-1", model.RoleAdmin)
				So(errors.Is(err, correction.ErrDuplicateApprover), ShouldBeTrue)
			})

			Convey("And both tiers approve", func() {
				_, err := p.Approve(ctx, c.CorrectionID, "comm-1", model.RoleCommissioner)
				So(err, ShouldBeNil)
				done, err := p.Approve(ctx, c.CorrectionID, "admin-1", model.RoleAdmin)
				So(err, ShouldBeNil)

				Convey("Then a -10 compensating delta moves the total from 20 to 10", func() {
					So(done.Status, ShouldEqual, model.CorrectionApplied)
					So(done.Deltas, ShouldHaveLength, 1)
					So(done.Deltas[0].Points.String(), ShouldEqual, "-10")
					So(done.Deltas[0].Compensates, ShouldBeGreaterThan, 0)
					So(total(r), ShouldEqual, "10")
					So(done.ApproverChain, ShouldHaveLength, 2)
					So(rebuilt, ShouldEqual, 1)
					st, _ := r.Status(ctx, "m1")
					So(st.UnderReview, ShouldBeFalse)
				})

				Convey("Then the audit log records the reason", func() {
					rec, err := log.Get(ctx, done.AuditRecordID)
					So(err, ShouldBeNil)
					So(rec.Action, ShouldEqual, audit.ActionApplied)
					So(rec.Reason, ShouldEqual, "VAR_OVERTURNED")
					So(rec.Subject, ShouldEqual, done.CorrectionID)
					all, _ := log.List(ctx, audit.Filter{Subject: done.CorrectionID})
					So(all, ShouldHaveLength, 3)
					So(notes.seen, ShouldResemble, []model.CorrectionStatus{
						model.CorrectionPending, model.CorrectionPending, model.CorrectionApplied,
					})
				})

				Convey("And the correction is rolled back through approval", func() {
					rb, err := p.Rollback(ctx, done.CorrectionID, "var-desk", "")
					So(err, ShouldBeNil)
					So(rb.ProposedChange.Action, ShouldEqual, model.ActionRollback)
					_, err = p.Approve(ctx, rb.CorrectionID, "admin-1", model.RoleAdmin)
					So(err, ShouldBeNil)
					_, err = p.Approve(ctx, rb.CorrectionID, "admin-2", model.RoleAdmin)
					So(err, ShouldBeNil)

					Convey("Then the original total is restored", func() {
						So(total(r), ShouldEqual, "20")
						got, err := p.Get(ctx, rb.CorrectionID)
						So(err, ShouldBeNil)
						So(got.Status, ShouldEqual, model.CorrectionApplied)
					})
				})
			})

			Convey("And it is rejected", func() {
				out, err := p.Reject(ctx, c.CorrectionID, "admin-1", "goal stands")

				Convey("Then nothing changes and the review clears", func() {
					So(err, ShouldBeNil)
					So(out.Status, ShouldEqual, model.CorrectionRejected)
					So(total(r), ShouldEqual, "20")
					st, _ := r.Status(ctx, "m1")
					So(st.UnderReview, ShouldBeFalse)
					_, err = p.Approve(ctx, c.CorrectionID, "comm-1", model.RoleCommissioner)
					So(errors.Is(err, correction.ErrNotPending), ShouldBeTrue)
					_, err = p.Rollback(ctx, c.CorrectionID, "x", "")
					So(errors.Is(err, correction.ErrNotApplied), ShouldBeTrue)
				})
			})
		})

		Convey("When a request lacks a reason", func() {
			req := overturned
			req.Reason = ""
			_, err := p.Submit(ctx, req)

			Convey("Then it is refused before any dry run", func() {
				So(errors.Is(err, correction.ErrInvalidRequest), ShouldBeTrue)
				list, _ := p.List(ctx, "m1")
				So(list, ShouldBeEmpty)
			})
		})
	})
}

func TestApplyFailures(t *testing.T) {
	ctx := context.Background()

	Convey("Given a pipeline with a single tier", t, func() {
		r := twoGoals()

		Convey("When the match lease is busy at final approval", func() {
			p := correction.New(stubApplier{Resolver: r, err: &model.CorrectionConflict{MatchID: "m1", Reason: "match lease busy"}},
				correction.WithApprovalTiers(model.RoleAdmin))
			c, err := p.Submit(ctx, overturned)
			So(err, ShouldBeNil)
			_, err = p.Approve(ctx, c.CorrectionID, "admin-1", model.RoleAdmin)

			Convey("Then a conflict is returned and the correction stays pending", func() {
				So(model.IsConflict(err), ShouldBeTrue)
				got, _ := p.Get(ctx, c.CorrectionID)
				So(got.Status, ShouldEqual, model.CorrectionPending)
				So(got.ApproverChain, ShouldBeEmpty)
			})
		})

		Convey("When the resolver refuses the correction", func() {
			p := correction.New(stubApplier{Resolver: r, err: resolver.ErrInvalidCorrection},
				correction.WithApprovalTiers(model.RoleAdmin))
			c, err := p.Submit(ctx, overturned)
			So(err, ShouldBeNil)
			out, err := p.Approve(ctx, c.CorrectionID, "admin-1", model.RoleAdmin)

			Convey("Then it is marked failed and the match may take new corrections", func() {
				So(errors.Is(err, resolver.ErrInvalidCorrection), ShouldBeTrue)
				So(out.Status, ShouldEqual, model.CorrectionFailed)
				_, err := p.Submit(ctx, overturned)
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store holding a pending correction", t, func() {
		r := twoGoals()
		store := correction.NewMemoryStore()
		first := correction.New(r, correction.WithStore(store))
		_, err := first.Submit(ctx, overturned)
		So(err, ShouldBeNil)

		Convey("Then a restarted pipeline still sees the conflict", func() {
			second := correction.New(r, correction.WithStore(store))
			So(second.Restore(ctx), ShouldBeNil)
			_, err := second.Submit(ctx, overturned)
			So(model.IsConflict(err), ShouldBeTrue)
		})
	})
}

var errLeaseLost = errors.New("lease lost")

// gatedApplier holds dry runs for m2 until gate closes, then fails them.
type gatedApplier struct {
	*resolver.Resolver
	entered chan struct{}
	gate    chan struct{}
}

func (g gatedApplier) Simulate(ctx context.Context, req resolver.CorrectionRequest) (resolver.Plan, error) {
	if req.MatchID != "m2" {
		return g.Resolver.Simulate(ctx, req)
	}
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	return resolver.Plan{}, errLeaseLost
}

func TestSubmitAcrossMatches(t *testing.T) {
	ctx := context.Background()

	Convey("Given a dry run for m2 waiting on its match", t, func() {
		g := gatedApplier{Resolver: twoGoals(), entered: make(chan struct{}, 1), gate: make(chan struct{})}
		p := correction.New(g)
		stuck := make(chan error, 1)
		go func() {
			_, err := p.Submit(ctx, correction.Request{
				MatchID: "m2", TargetEventID: "e9", Reason: "offside",
				Change: model.ProposedChange{Action: model.ActionVoid},
			})
			stuck <- err
		}()
		<-g.entered

		Convey("Then a correction for m1 is not held up", func() {
			done := make(chan error, 1)
			go func() {
				_, err := p.Submit(ctx, overturned)
				done <- err
			}()
			var err error
			select {
			case err = <-done:
			case <-time.After(2 * time.Second):
				err = errors.New("submit for m1 blocked")
			}
			close(g.gate)
			So(err, ShouldBeNil)
			So(<-stuck, ShouldEqual, errLeaseLost)
		})

		Convey("Then a failed dry run frees the match for the next submission", func() {
			close(g.gate)
			So(<-stuck, ShouldEqual, errLeaseLost)
			_, err := p.Submit(ctx, correction.Request{
				MatchID: "m2", TargetEventID: "e9", Reason: "offside",
				Change: model.ProposedChange{Action: model.ActionVoid},
			})
			So(err, ShouldEqual, errLeaseLost)
			So(model.IsConflict(err), ShouldBeFalse)
		})
	})
}
