// Package tiebreak ranks entities level on points by walking an ordered,
// deterministic criteria chain that ends in a seeded draw.
package tiebreak

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/projection"
	"github.com/okian/matchday/pkg/logger"
	"github.com/okian/matchday/pkg/metrics"
)

const seedDomain = "matchday/tiebreak/v1"

// Source is the projection read side the criteria consume.
type Source interface {
	PlayerSeason(ctx context.Context, seasonID, playerID string) (projection.PlayerSeasonProjection, error)
	SeasonMatches(ctx context.Context, seasonID string) []*projection.MatchProjection
}

// Entity is a tied team.
type Entity struct {
	ID        string   `json:"id"`
	Starters  []string `json:"starters"`
	Reserves  []string `json:"reserves,omitempty"`
	KeyPlayer string   `json:"key_player,omitempty"`
}

// Fixture is a past meeting of two entities scored over MatchIDs.
type Fixture struct {
	ID       string   `json:"id"`
	A        string   `json:"a"`
	B        string   `json:"b"`
	MatchIDs []string `json:"match_ids"`
}

// Request asks for the order of tied entities.
type Request struct {
	LeagueID string    `json:"league_id"`
	SeasonID string    `json:"season_id"`
	RoundID  string    `json:"round_id,omitempty"`
	Phase    Phase     `json:"phase"`
	Entities []Entity  `json:"entities"`
	Fixtures []Fixture `json:"fixtures,omitempty"`
}

// Decision records one criterion applied to one tied group.
type Decision struct {
	Criterion Criterion         `json:"criterion"`
	Group     []string          `json:"group"`
	Values    map[string]string `json:"values"`
	// Outcome is the group split into ordered sub-groups; a single
	// sub-group means the criterion did not separate anyone.
	Outcome [][]string `json:"outcome"`
}

// Result is the resolved ranking with everything needed to audit it.
type Result struct {
	LeagueID  string     `json:"league_id"`
	SeasonID  string     `json:"season_id"`
	RoundID   string     `json:"round_id,omitempty"`
	Phase     Phase      `json:"phase"`
	Seed      string     `json:"seed"`
	Ranking   []string   `json:"ranking"`
	Decisions []Decision `json:"decisions"`
}

// Seed derives the draw seed from stable identifiers only.
func Seed(leagueID, seasonID, roundID string, phase Phase) string {
	h := sha256.New()
	h.Write([]byte(seedDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(strings.Join([]string{leagueID, seasonID, roundID, string(phase)}, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// DrawKey is an entity's position key in the seeded draw; lower wins.
func DrawKey(seed, entityID string) string {
	sum := sha256.Sum256([]byte(seed + "|" + entityID))
	return hex.EncodeToString(sum[:])
}

// Resolver applies league tie-break policies.
type Resolver struct {
	source Source
	audit  audit.Log
	log    logger.Logger

	mu       sync.RWMutex
	configs  map[string]Config
	fallback Config
}

// New creates a resolver reading source.
func New(source Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:   source,
		configs:  make(map[string]Config),
		fallback: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("tiebreak")
	}
	return r
}

// Configure installs a league policy.
func (r *Resolver) Configure(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.LeagueID == "" {
		r.fallback = c
		return nil
	}
	r.configs[c.LeagueID] = c
	return nil
}

func (r *Resolver) config(leagueID string) Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.configs[leagueID]; ok {
		return c
	}
	return r.fallback
}

// Resolve orders req.Entities. Each criterion only splits groups still tied
// after the previous ones; the seeded draw always separates what remains.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	if req.SeasonID == "" {
		return Result{}, fmt.Errorf("%w: season_id is required", ErrInvalidRequest)
	}
	if req.Phase == "" {
		req.Phase = PhaseRegular
	}
	seen := make(map[string]bool, len(req.Entities))
	for _, e := range req.Entities {
		if e.ID == "" || seen[e.ID] {
			return Result{}, fmt.Errorf("%w: entity ids must be unique and non-empty", ErrInvalidRequest)
		}
		seen[e.ID] = true
	}
	cfg := r.config(req.LeagueID)
	chain, err := cfg.chain(req.Phase)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		LeagueID: req.LeagueID,
		SeasonID: req.SeasonID,
		RoundID:  req.RoundID,
		Phase:    req.Phase,
		Seed:     Seed(req.LeagueID, req.SeasonID, req.RoundID, req.Phase),
	}
	byID := make(map[string]Entity, len(req.Entities))
	first := make([]string, 0, len(req.Entities))
	for _, e := range req.Entities {
		byID[e.ID] = e
		first = append(first, e.ID)
	}
	sort.Strings(first)
	groups := [][]string{first}

	ev := &evaluator{ctx: ctx, src: r.source, req: req, cfg: cfg, seed: res.Seed, byID: byID}
	for _, cr := range chain {
		if settled(groups) {
			break
		}
		var next [][]string
		for _, g := range groups {
			if len(g) < 2 {
				next = append(next, g)
				continue
			}
			d, err := ev.apply(cr, g)
			if err != nil {
				return Result{}, err
			}
			res.Decisions = append(res.Decisions, d)
			if len(d.Outcome) > 1 {
				metrics.RecordTieBreak(string(cr))
			}
			next = append(next, d.Outcome...)
		}
		groups = next
	}
	for _, g := range groups {
		res.Ranking = append(res.Ranking, g...)
	}

	r.record(ctx, res)
	return res, nil
}

func (r *Resolver) record(ctx context.Context, res Result) {
	decidedBy := ""
	if n := len(res.Decisions); n > 0 {
		decidedBy = string(res.Decisions[n-1].Criterion)
	}
	r.log.Info(ctx, "tie resolved",
		logger.String("league_id", res.LeagueID),
		logger.String("season_id", res.SeasonID),
		logger.String("seed", res.Seed),
		logger.String("decided_by", decidedBy),
		logger.String("ranking", strings.Join(res.Ranking, ",")))
	if r.audit == nil {
		return
	}
	_, err := r.audit.Append(ctx, audit.Record{
		Kind:    audit.KindTieBreak,
		Subject: strings.Join([]string{res.LeagueID, res.SeasonID, res.RoundID, string(res.Phase)}, "|"),
		Action:  audit.ActionResolved,
		Reason:  decidedBy,
		Detail:  audit.JSON(res),
	})
	if err != nil {
		r.log.Error(ctx, "audit append failed", logger.Error(err))
	}
}

func settled(groups [][]string) bool {
	for _, g := range groups {
		if len(g) > 1 {
			return false
		}
	}
	return true
}

// evaluator computes criterion values for one request.
type evaluator struct {
	ctx  context.Context
	src  Source
	req  Request
	cfg  Config
	seed string
	byID map[string]Entity

	matches []*projection.MatchProjection
}

func (e *evaluator) apply(cr Criterion, group []string) (Decision, error) {
	d := Decision{Criterion: cr, Group: append([]string(nil), group...), Values: make(map[string]string, len(group))}

	if cr == SeededDraw {
		keys := make(map[string]string, len(group))
		for _, id := range group {
			keys[id] = DrawKey(e.seed, id)
			d.Values[id] = keys[id]
		}
		order := append([]string(nil), group...)
		sort.Slice(order, func(i, j int) bool { return keys[order[i]] < keys[order[j]] })
		for _, id := range order {
			d.Outcome = append(d.Outcome, []string{id})
		}
		return d, nil
	}

	if cr == SuddenDeath {
		return e.suddenDeath(d, group)
	}

	values := make(map[string]decimal.Decimal, len(group))
	for _, id := range group {
		v, err := e.value(cr, id, group)
		if err != nil {
			return Decision{}, err
		}
		values[id] = v
		d.Values[id] = v.String()
	}
	d.Outcome = split(group, values)
	return d, nil
}

// split orders group by value descending; equal values stay together in id order.
func split(group []string, values map[string]decimal.Decimal) [][]string {
	order := append([]string(nil), group...)
	sort.SliceStable(order, func(i, j int) bool {
		if c := values[order[i]].Cmp(values[order[j]]); c != 0 {
			return c > 0
		}
		return order[i] < order[j]
	})
	var out [][]string
	for i, id := range order {
		if i > 0 && values[id].Equal(values[order[i-1]]) {
			out[len(out)-1] = append(out[len(out)-1], id)
			continue
		}
		out = append(out, []string{id})
	}
	return out
}

func (e *evaluator) value(cr Criterion, id string, group []string) (decimal.Decimal, error) {
	ent := e.byID[id]
	switch cr {
	case ReserveTotal:
		return e.sum(ent.Reserves)
	case KeyPlayer:
		if ent.KeyPlayer == "" {
			return decimal.Zero, nil
		}
		return e.sum([]string{ent.KeyPlayer})
	case HeadToHead:
		return e.headToHead(id, group), nil
	case AdvancedMetrics:
		return e.perMatch(ent.Starters)
	case VirtualExtension:
		return e.extension(ent.Starters), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCriterion, cr)
	}
}

func (e *evaluator) season(player string) (projection.PlayerSeasonProjection, error) {
	ps, err := e.src.PlayerSeason(e.ctx, e.req.SeasonID, player)
	if errors.Is(err, model.ErrNotFound) {
		return projection.PlayerSeasonProjection{PlayerID: player}, nil
	}
	return ps, err
}

func (e *evaluator) sum(players []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range players {
		ps, err := e.season(p)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(ps.Total)
	}
	return total, nil
}

// perMatch sums each starter's average points per match played.
func (e *evaluator) perMatch(players []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range players {
		ps, err := e.season(p)
		if err != nil {
			return decimal.Zero, err
		}
		if n := len(ps.Matches); n > 0 {
			total = total.Add(ps.Total.DivRound(decimal.NewFromInt(int64(n)), 4))
		}
	}
	return total, nil
}

func (e *evaluator) matchTotals() map[string]map[string]decimal.Decimal {
	if e.matches == nil {
		e.matches = e.src.SeasonMatches(e.ctx, e.req.SeasonID)
	}
	out := make(map[string]map[string]decimal.Decimal, len(e.matches))
	for _, m := range e.matches {
		out[m.MatchID] = m.Totals()
	}
	return out
}

// headToHead scores a mini-league among the group: 3 points for a win and
// 1 for a draw in fixtures between group members.
func (e *evaluator) headToHead(id string, group []string) decimal.Decimal {
	in := make(map[string]bool, len(group))
	for _, g := range group {
		in[g] = true
	}
	totals := e.matchTotals()
	score := func(ent Entity, matchIDs []string) decimal.Decimal {
		s := decimal.Zero
		for _, m := range matchIDs {
			for _, p := range ent.Starters {
				s = s.Add(totals[m][p])
			}
		}
		return s
	}
	pts := int64(0)
	for _, f := range e.req.Fixtures {
		if !in[f.A] || !in[f.B] || (f.A != id && f.B != id) {
			continue
		}
		other := f.B
		if f.B == id {
			other = f.A
		}
		mine, theirs := score(e.byID[id], f.MatchIDs), score(e.byID[other], f.MatchIDs)
		switch mine.Cmp(theirs) {
		case 1:
			pts += 3
		case 0:
			pts++
		}
	}
	return decimal.NewFromInt(pts)
}

// extension projects the starters' points over ExtensionMinutes from their
// scoring rate in the request's round, or the whole season without one.
func (e *evaluator) extension(players []string) decimal.Decimal {
	if e.matches == nil {
		e.matches = e.src.SeasonMatches(e.ctx, e.req.SeasonID)
	}
	points, played := decimal.Zero, 0
	for _, m := range e.matches {
		if e.req.RoundID != "" && m.RoundID != e.req.RoundID {
			continue
		}
		appeared := false
		for _, p := range players {
			if line, ok := m.Players[p]; ok {
				points = points.Add(line.Total)
				appeared = true
			}
		}
		if appeared {
			played++
		}
	}
	if played == 0 {
		return decimal.Zero
	}
	minutes := decimal.NewFromInt(int64(played * e.cfg.RegulationMinutes))
	return points.Mul(decimal.NewFromInt(int64(e.cfg.ExtensionMinutes))).DivRound(minutes, 4)
}

// suddenDeath compares the k-th best starter season total for k = 1..tiers
// and stops at the first tier that separates the group.
func (e *evaluator) suddenDeath(d Decision, group []string) (Decision, error) {
	ranked := make(map[string][]decimal.Decimal, len(group))
	for _, id := range group {
		var totals []decimal.Decimal
		for _, p := range e.byID[id].Starters {
			ps, err := e.season(p)
			if err != nil {
				return Decision{}, err
			}
			totals = append(totals, ps.Total)
		}
		sort.Slice(totals, func(i, j int) bool { return totals[i].GreaterThan(totals[j]) })
		ranked[id] = totals
	}
	d.Outcome = [][]string{append([]string(nil), group...)}
	sort.Strings(d.Outcome[0])
	for k := 0; k < e.cfg.SuddenDeathTiers; k++ {
		values := make(map[string]decimal.Decimal, len(group))
		for _, id := range group {
			if k < len(ranked[id]) {
				values[id] = ranked[id][k]
			}
			d.Values[id] = values[id].String()
		}
		if out := split(group, values); len(out) > 1 {
			d.Values["tier"] = fmt.Sprint(k + 1)
			d.Outcome = out
			return d, nil
		}
	}
	return d, nil
}
