package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/metrics"
)

const maxFactsPerKey = 64

// fact is an accepted event that later reports from other providers may corroborate.
type fact struct {
	provider       string
	minute         int
	seq            int64
	corroboratedBy map[string]bool
}

// pending is a low-trust event waiting for a quorum of providers.
type pending struct {
	ev        model.CanonicalEvent
	providers map[string]bool
	satisfied chan struct{}
	resolved  chan struct{}
	sat       bool
	done      bool
	seq       int64
	err       error
}

// Verifier cross-checks events between providers. A low-trust event waits up
// to window for distinct providers (a trusted one counts as the full quorum)
// reporting the same fact; without them it is quarantined. Reports of an
// already accepted fact resolve to that fact's sequence number.
type Verifier struct {
	mu      sync.Mutex
	trust   TrustPolicy
	quorum  int
	window  time.Duration
	minutes int
	pending map[string][]*pending
	facts   map[string][]*fact
}

// NewVerifier creates a verifier. quorum counts distinct providers including
// the reporting one; minuteTolerance bounds how far reports of the same fact
// may disagree on the minute.
func NewVerifier(trust TrustPolicy, quorum int, window time.Duration, minuteTolerance int) *Verifier {
	if quorum < 1 {
		quorum = 1
	}
	return &Verifier{
		trust:   trust,
		quorum:  quorum,
		window:  window,
		minutes: minuteTolerance,
		pending: make(map[string][]*pending),
		facts:   make(map[string][]*fact),
	}
}

// Decision is the verifier's verdict on one event.
type Decision struct {
	// Corroborated is set when the event reported an already accepted fact;
	// Sequence then names that fact.
	Corroborated bool
	Sequence     int64

	v  *Verifier
	ev model.CanonicalEvent
	p  *pending
}

func (v *Verifier) near(a, b int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= v.minutes
}

// Verify blocks for at most the corroboration window.
func (v *Verifier) Verify(ctx context.Context, ev model.CanonicalEvent) (Decision, error) {
	key := ev.FactKey()
	v.mu.Lock()

	for _, f := range v.facts[key] {
		if f.provider != ev.ProviderID && !f.corroboratedBy[ev.ProviderID] && v.near(f.minute, ev.Minute) {
			f.corroboratedBy[ev.ProviderID] = true
			v.mu.Unlock()
			metrics.RecordEventCorroborated()
			return Decision{Corroborated: true, Sequence: f.seq}, nil
		}
	}

	for _, p := range v.pending[key] {
		if p.done || p.ev.ProviderID == ev.ProviderID || p.providers[ev.ProviderID] || !v.near(p.ev.Minute, ev.Minute) {
			continue
		}
		p.providers[ev.ProviderID] = true
		if !p.sat && (v.trust.IsTrusted(ev.ProviderID) || len(p.providers) >= v.quorum) {
			p.sat = true
			close(p.satisfied)
		}
		v.mu.Unlock()
		return v.follow(ctx, p)
	}

	if ev.IsLifecycle() || v.quorum <= 1 || v.trust.IsTrusted(ev.ProviderID) {
		v.mu.Unlock()
		return Decision{v: v, ev: ev}, nil
	}

	p := &pending{
		ev:        ev,
		providers: map[string]bool{ev.ProviderID: true},
		satisfied: make(chan struct{}),
		resolved:  make(chan struct{}),
	}
	v.pending[key] = append(v.pending[key], p)
	v.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(v.window)
	defer timer.Stop()
	select {
	case <-p.satisfied:
		metrics.RecordCorroborationWait(float64(time.Since(start).Milliseconds()))
		return Decision{v: v, ev: ev, p: p}, nil
	case <-timer.C:
		v.mu.Lock()
		sat := p.sat
		v.mu.Unlock()
		if sat {
			return Decision{v: v, ev: ev, p: p}, nil
		}
		err := &model.QuarantineError{Reason: model.ReasonUncorroborated}
		v.finish(p, 0, err)
		return Decision{}, err
	case <-ctx.Done():
		v.finish(p, 0, ctx.Err())
		return Decision{}, ctx.Err()
	}
}

// follow waits for the leader of a fact the caller corroborated.
func (v *Verifier) follow(ctx context.Context, p *pending) (Decision, error) {
	timer := time.NewTimer(2*v.window + time.Second)
	defer timer.Stop()
	select {
	case <-p.resolved:
		if p.err != nil {
			return Decision{}, p.err
		}
		metrics.RecordEventCorroborated()
		return Decision{Corroborated: true, Sequence: p.seq}, nil
	case <-timer.C:
		return Decision{}, ErrCorroborationTimeout
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// finish removes p from the pending set and releases its followers.
func (v *Verifier) finish(p *pending, seq int64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	p.seq, p.err = seq, err
	key := p.ev.FactKey()
	list := v.pending[key]
	for i, q := range list {
		if q == p {
			v.pending[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(v.pending[key]) == 0 {
		delete(v.pending, key)
	}
	close(p.resolved)
}

// Record registers an accepted event as a fact others may corroborate.
// corroborators are providers already known to report the same fact.
func (v *Verifier) Record(ev model.CanonicalEvent, seq int64, corroborators ...string) {
	if ev.IsLifecycle() {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	f := &fact{provider: ev.ProviderID, minute: ev.Minute, seq: seq, corroboratedBy: make(map[string]bool)}
	for _, c := range corroborators {
		f.corroboratedBy[c] = true
	}
	key := ev.FactKey()
	facts := append(v.facts[key], f)
	if len(facts) > maxFactsPerKey {
		facts = facts[len(facts)-maxFactsPerKey:]
	}
	v.facts[key] = facts
}

// Resolve records the accepted event and hands its sequence to followers.
func (d Decision) Resolve(seq int64) {
	if d.v == nil {
		return
	}
	var corroborators []string
	if d.p != nil {
		d.v.mu.Lock()
		for p := range d.p.providers {
			corroborators = append(corroborators, p)
		}
		d.v.mu.Unlock()
		d.v.finish(d.p, seq, nil)
	}
	d.v.Record(d.ev, seq, corroborators...)
}

// Abandon releases followers with err when the event was not accepted.
func (d Decision) Abandon(err error) {
	if d.v == nil || d.p == nil {
		return
	}
	d.v.finish(d.p, 0, err)
}
