package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchday/internal/adapters/http/api"
	"github.com/okian/matchday/internal/config"
	"github.com/okian/matchday/internal/domain/correction"
	"github.com/okian/matchday/internal/domain/ingest"
	"github.com/okian/matchday/internal/domain/model"
)

func TestService_SQLiteRecovery(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service persisting to sqlite", t, func() {
		cfg := testConfig()
		cfg.LedgerBackend = config.BackendSQLite
		cfg.QueueBackend = config.BackendSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "matchday.db")

		svc := start(cfg)
		schedule(svc)
		_, err := svc.Ingest().Submit(ctx, goal("e1", "p1", "opta", 10))
		So(err, ShouldBeNil)
		_, err = svc.Ingest().Submit(ctx, goal("e2", "p1", "opta", 30))
		So(err, ShouldBeNil)
		pending, err := svc.Corrections().Submit(ctx, correction.Request{
			MatchID: "m1", TargetEventID: "e2", Reason: "VAR_OVERTURNED",
			Change: model.ProposedChange{Action: model.ActionVoid}, RequestedBy: "var-desk",
		})
		So(err, ShouldBeNil)
		So(svc.Stop(ctx), ShouldBeNil)

		Convey("When a new service opens the same database", func() {
			again := start(cfg)
			defer func() { So(again.Stop(ctx), ShouldBeNil) }()

			Convey("Then projections are rebuilt from the ledger", func() {
				So(total(again, "p1"), ShouldEqual, "20")
				ps, err := again.Projections().PlayerSeason(ctx, "s1", "p1")
				So(err, ShouldBeNil)
				So(ps.Total.String(), ShouldEqual, "20")
				So(again.GetStats()["matches"], ShouldEqual, 1)
			})

			Convey("Then a redelivery of an event from before the restart is a duplicate", func() {
				rec, err := again.Ingest().Submit(ctx, goal("e1", "p1", "opta", 10))
				So(errors.Is(err, model.ErrDuplicateEvent), ShouldBeTrue)
				So(rec.Status, ShouldEqual, ingest.StatusDuplicate)
				So(total(again, "p1"), ShouldEqual, "20")
				st, err := again.Resolver().Status(ctx, "m1")
				So(err, ShouldBeNil)
				So(st.Events, ShouldEqual, 2)
			})

			Convey("Then the pending correction survives and can be approved", func() {
				c, err := again.Corrections().Get(ctx, pending.CorrectionID)
				So(err, ShouldBeNil)
				So(c.Status, ShouldEqual, model.CorrectionPending)

				_, err = again.Corrections().Approve(ctx, c.CorrectionID, "comm-1", model.RoleCommissioner)
				So(err, ShouldBeNil)
				done, err := again.Corrections().Approve(ctx, c.CorrectionID, "admin-1", model.RoleAdmin)
				So(err, ShouldBeNil)
				So(done.Status, ShouldEqual, model.CorrectionApplied)
				So(total(again, "p1"), ShouldEqual, "10")
			})

			Convey("Then replaying the match reproduces its ledger", func() {
				report, err := again.Resolver().Replay(ctx, "m1")
				So(err, ShouldBeNil)
				So(report.ChainBreak, ShouldEqual, 0)
				So(report.Divergence, ShouldEqual, 0)
			})
		})
	})
}

func TestService_HTTP(t *testing.T) {
	ctx := context.Background()

	Convey("Given the API mounted over a started service", t, func() {
		svc := start(testConfig())
		defer func() { So(svc.Stop(ctx), ShouldBeNil) }()
		mux := http.NewServeMux()
		api.NewServer(svc.API()).Register(mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		post := func(path string, body any) *http.Response {
			raw, err := json.Marshal(body)
			So(err, ShouldBeNil)
			resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
			So(err, ShouldBeNil)
			return resp
		}

		resp := post("/matches", model.MatchInfo{
			MatchID: "m1", SportID: "football", LeagueID: "l1", SeasonID: "s1", RulesetVersion: 1,
		})
		resp.Body.Close()
		So(resp.StatusCode, ShouldEqual, http.StatusCreated)

		Convey("When two goals are posted", func() {
			for _, ev := range []model.CanonicalEvent{goal("e1", "p1", "opta", 10), goal("e2", "p1", "opta", 30)} {
				resp := post("/events", ev)
				resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
			}

			Convey("Then the match projection reads 20", func() {
				resp, err := http.Get(srv.URL + "/matches/m1")
				So(err, ShouldBeNil)
				defer resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var body struct {
					Players map[string]struct {
						Total string `json:"total"`
					} `json:"players"`
				}
				So(json.NewDecoder(resp.Body).Decode(&body), ShouldBeNil)
				So(body.Players["p1"].Total, ShouldEqual, "20")
			})

			Convey("Then the leaderboard ranks p1 first", func() {
				resp, err := http.Get(srv.URL + "/leaderboard?season=s1&limit=10")
				So(err, ShouldBeNil)
				defer resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var rows []struct {
					Rank     int    `json:"rank"`
					PlayerID string `json:"player_id"`
					Total    string `json:"total"`
				}
				So(json.NewDecoder(resp.Body).Decode(&rows), ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
				So(rows[0].PlayerID, ShouldEqual, "p1")
				So(rows[0].Rank, ShouldEqual, 1)
				So(rows[0].Total, ShouldEqual, "20")
			})

			Convey("Then posting the same event again is reported as a duplicate", func() {
				resp := post("/events", goal("e1", "p1", "opta", 10))
				resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
			})
		})
	})
}
