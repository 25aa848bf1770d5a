package resolver

import (
	"sort"
	"sync"
	"time"

	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/shopspring/decimal"
)

// cell is the net contribution of one (event, rule, player) key.
type cell struct {
	points decimal.Decimal
	origin int64 // ledger seq of the first delta for the key
}

// matchState is the resolver's fold of one match ledger. It is rebuilt
// from the ledger on first use, so a restart loses nothing.
type matchState struct {
	mu sync.RWMutex

	scheduled bool
	info      model.MatchInfo
	state     model.MatchState
	reviews   map[string]bool
	head      *ledger.Entry

	eventSeq   int64
	events     []model.CanonicalEvent
	byID       map[string]int64 // event id and provider/event key -> event seq
	lastMinute int
	lastTS     time.Time

	marks      map[int64][]ledger.CorrectionMark
	marksByID  map[string]ledger.CorrectionMark
	rolledBack map[string]bool
	net        map[model.DeltaKey]*cell
	unscored   map[int64]string

	// live is the replayer positioned after the last effective event; nil
	// means it must be rebuilt from events before the next evaluation.
	live *replayer
}

func newMatchState() *matchState {
	return &matchState{
		reviews:    make(map[string]bool),
		byID:       make(map[string]int64),
		marks:      make(map[int64][]ledger.CorrectionMark),
		marksByID:  make(map[string]ledger.CorrectionMark),
		rolledBack: make(map[string]bool),
		net:        make(map[model.DeltaKey]*cell),
		unscored:   make(map[int64]string),
	}
}

// apply folds one ledger entry. Callers hold mu for writing.
func (s *matchState) apply(e ledger.Entry) {
	switch e.Kind {
	case ledger.KindSchedule:
		s.scheduled = true
		s.info = *e.Schedule
		s.state = model.StateScheduled
	case ledger.KindEvent:
		ev := *e.Event
		s.events = append(s.events, ev)
		s.eventSeq = ev.SequenceNumber
		if _, ok := s.byID[ev.EventID]; !ok {
			s.byID[ev.EventID] = ev.SequenceNumber
		}
		s.byID[ev.IdempotencyKey()] = ev.SequenceNumber
		if ev.Minute > s.lastMinute {
			s.lastMinute = ev.Minute
		}
		if ev.Timestamp.After(s.lastTS) {
			s.lastTS = ev.Timestamp
		}
	case ledger.KindDelta, ledger.KindCompensation:
		k := e.Delta.Key()
		c, ok := s.net[k]
		if !ok {
			c = &cell{origin: e.Seq}
			s.net[k] = c
		}
		c.points = c.points.Add(e.Delta.Points)
	case ledger.KindTransition:
		s.state = e.Transition.To
	case ledger.KindReview:
		if e.Review.Active {
			s.reviews[e.Review.Reason] = true
		} else {
			delete(s.reviews, e.Review.Reason)
		}
	case ledger.KindUnscored:
		if e.Unscored.Cleared {
			delete(s.unscored, e.Unscored.EventSequence)
		} else {
			s.unscored[e.Unscored.EventSequence] = e.Unscored.Error
		}
	case ledger.KindCorrection:
		m := *e.Correction
		s.marksByID[m.CorrectionID] = m
		if m.Action == model.ActionRollback {
			s.rolledBack[m.RollbackOf] = true
		} else {
			s.marks[m.TargetSequence] = append(s.marks[m.TargetSequence], m)
		}
		s.live = nil
	case ledger.KindRepin:
		s.info.RulesetVersion = e.Repin.To
		s.live = nil
	}
	cp := e
	s.head = &cp
}

func (s *matchState) headSeq() int64 {
	if s.head == nil {
		return 0
	}
	return s.head.Seq
}

// effective returns the accepted events with correction overlays applied.
// Voided events are dropped. extra is an unapplied mark used for planning.
func (s *matchState) effective(extra *ledger.CorrectionMark) []model.CanonicalEvent {
	marks := s.marks
	rolledBack := s.rolledBack
	if extra != nil {
		marks = make(map[int64][]ledger.CorrectionMark, len(s.marks)+1)
		for k, v := range s.marks {
			marks[k] = v
		}
		rolledBack = make(map[string]bool, len(s.rolledBack)+1)
		for k, v := range s.rolledBack {
			rolledBack[k] = v
		}
		if extra.Action == model.ActionRollback {
			rolledBack[extra.RollbackOf] = true
		} else {
			marks[extra.TargetSequence] = append(append([]ledger.CorrectionMark(nil), marks[extra.TargetSequence]...), *extra)
		}
	}

	out := make([]model.CanonicalEvent, 0, len(s.events))
	for _, ev := range s.events {
		cur, voided := ev, false
		for _, m := range marks[ev.SequenceNumber] {
			if rolledBack[m.CorrectionID] {
				continue
			}
			switch m.Action {
			case model.ActionVoid:
				voided = true
			case model.ActionAmend:
				cur, voided = *m.Amended, false
			}
		}
		if !voided {
			out = append(out, cur)
		}
	}
	return out
}

func (s *matchState) event(seq int64) (model.CanonicalEvent, bool) {
	if seq < 1 || seq > int64(len(s.events)) {
		return model.CanonicalEvent{}, false
	}
	return s.events[seq-1], true
}

// totals sums net points per player.
func (s *matchState) totals() model.PlayerTotals {
	out := make(model.PlayerTotals)
	for k, c := range s.net {
		out[k.PlayerID] = out[k.PlayerID].Add(c.points)
	}
	return out
}

func (s *matchState) unscoredSeqs() []int64 {
	out := make([]int64, 0, len(s.unscored))
	for seq := range s.unscored {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *matchState) reviewReasons() []string {
	out := make([]string, 0, len(s.reviews))
	for r := range s.reviews {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
