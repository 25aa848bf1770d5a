// Package ledger defines the append-only, hash-chained per-match log that is
// the engine's source of truth.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/okian/matchday/internal/domain/model"
	"golang.org/x/text/unicode/norm"
)

// Kind tags the payload of an Entry.
type Kind string

// Entry kinds.
const (
	KindSchedule     Kind = "SCHEDULE"
	KindEvent        Kind = "EVENT"
	KindDelta        Kind = "DELTA"
	KindCompensation Kind = "COMPENSATION"
	KindTransition   Kind = "TRANSITION"
	KindReview       Kind = "REVIEW"
	KindUnscored     Kind = "UNSCORED"
	KindCorrection   Kind = "CORRECTION"
	KindRepin        Kind = "REPIN"
)

// hashDomain separates ledger hashes from any other sha256 use.
const hashDomain = "matchday/ledger/v1"

// Transition records a lifecycle state change. Derived transitions follow
// from an event or correction in the same append; the rest are operator input.
type Transition struct {
	From    model.MatchState `json:"from"`
	To      model.MatchState `json:"to"`
	Derived bool             `json:"derived,omitempty"`
}

// Review sets or clears one UNDER_REVIEW reason.
type Review struct {
	Reason  string `json:"reason"`
	Active  bool   `json:"active"`
	Derived bool   `json:"derived,omitempty"`
}

// Unscored marks an accepted event that could not be evaluated. Cleared
// withdraws the mark once a correction or re-pin lets the event score.
type Unscored struct {
	EventSequence int64  `json:"event_sequence"`
	RuleID        string `json:"rule_id,omitempty"`
	Error         string `json:"error,omitempty"`
	Cleared       bool   `json:"cleared,omitempty"`
}

// CorrectionMark overlays an accepted event. Amended holds the replacement
// event for AMEND; VOID carries none; ROLLBACK names the undone correction.
type CorrectionMark struct {
	CorrectionID   string                `json:"correction_id"`
	Action         model.ChangeAction    `json:"action"`
	TargetEventID  string                `json:"target_event_id"`
	TargetSequence int64                 `json:"target_sequence"`
	Amended        *model.CanonicalEvent `json:"amended,omitempty"`
	RollbackOf     string                `json:"rollback_of,omitempty"`
	Reason         string                `json:"reason"`
}

// Repin moves a match to another ruleset version.
type Repin struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	Reason string `json:"reason"`
}

// Entry is one immutable ledger record. Exactly one payload field is set,
// matching Kind. Entries carry no wall-clock time so replay is byte-identical.
type Entry struct {
	Seq        int64                 `json:"seq"`
	MatchID    string                `json:"match_id"`
	Kind       Kind                  `json:"kind"`
	Schedule   *model.MatchInfo      `json:"schedule,omitempty"`
	Event      *model.CanonicalEvent `json:"event,omitempty"`
	Delta      *model.PointDelta     `json:"delta,omitempty"`
	Transition *Transition           `json:"transition,omitempty"`
	Review     *Review               `json:"review,omitempty"`
	Unscored   *Unscored             `json:"unscored,omitempty"`
	Correction *CorrectionMark       `json:"correction,omitempty"`
	Repin      *Repin                `json:"repin,omitempty"`
	PrevHash   string                `json:"prev_hash"`
	Hash       string                `json:"hash,omitempty"`
}

// ComputeHash returns sha256(domain 0x00 NFC(json(entry without Hash))).
func (e Entry) ComputeHash() (string, error) {
	e.Hash = ""
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal entry %d: %w", e.Seq, err)
	}
	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write([]byte{0x00})
	h.Write(norm.NFC.Bytes(b))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Seal links e after prev (nil for genesis), setting Seq, PrevHash and Hash.
func Seal(prev *Entry, e Entry) (Entry, error) {
	e.Seq = 1
	e.PrevHash = ""
	if prev != nil {
		e.Seq = prev.Seq + 1
		e.PrevHash = prev.Hash
	}
	if e.Delta != nil {
		e.Delta.LedgerSequence = e.Seq
	}
	h, err := e.ComputeHash()
	if err != nil {
		return Entry{}, err
	}
	e.Hash = h
	return e, nil
}

// SealAll seals entries in order after prev.
func SealAll(prev *Entry, entries []Entry) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		sealed, err := Seal(prev, e)
		if err != nil {
			return nil, err
		}
		out = append(out, sealed)
		prev = &out[len(out)-1]
	}
	return out, nil
}

// VerifyLink checks e against its predecessor (nil for genesis).
func VerifyLink(prev *Entry, e Entry) error {
	wantSeq, wantPrev := int64(1), ""
	if prev != nil {
		wantSeq, wantPrev = prev.Seq+1, prev.Hash
	}
	if e.Seq != wantSeq {
		return fmt.Errorf("%w: got seq %d, want %d", ErrOutOfSequence, e.Seq, wantSeq)
	}
	if e.PrevHash != wantPrev {
		return fmt.Errorf("%w: seq %d prev hash mismatch", ErrChainMismatch, e.Seq)
	}
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	if h != e.Hash {
		return fmt.Errorf("%w: seq %d content hash mismatch", ErrChainMismatch, e.Seq)
	}
	return nil
}

// Verify checks a full chain from genesis and returns the index of the
// first bad entry, or -1.
func Verify(entries []Entry) (int, error) {
	var prev *Entry
	for i := range entries {
		if err := VerifyLink(prev, entries[i]); err != nil {
			return i, err
		}
		prev = &entries[i]
	}
	return -1, nil
}
