package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"phinance/internal/types"
)

// GenesisHash is the prev_hash of the first entry.
var GenesisHash = strings.Repeat("0", 64)

// Kind classifies audit entries.
type Kind string

const (
	KindDecision        Kind = "decision"
	KindRejection       Kind = "rejection"
	KindDeferral        Kind = "deferral"
	KindModeTransition  Kind = "mode_transition"
	KindOverrideGranted Kind = "override_granted"
	KindOverrideRevoked Kind = "override_revoked"
	KindBreakerEvent    Kind = "circuit_breaker"
	KindQueueExecution  Kind = "queue_execution"
	KindSessionStarted  Kind = "session_started"
	KindSessionEnded    Kind = "session_ended"
	KindCycleCompleted  Kind = "cycle_completed"
)

// Record is what callers hand to Append. Payload is marshalled to JSON.
type Record struct {
	Kind      Kind
	Portfolio types.PortfolioTag
	Payload   any
}

// Entry is one link of the chain as stored.
type Entry struct {
	Seq            int64              `json:"seq"`
	Kind           Kind               `json:"kind"`
	Portfolio      types.PortfolioTag `json:"portfolio,omitempty"`
	Payload        json.RawMessage    `json:"payload"`
	ChainTimestamp int64              `json:"chain_ts"`
	PrevHash       string             `json:"prev_hash"`

	// Hash is the stored digest of this entry; it is not part of the serialized form.
	Hash string `json:"-"`
}

// Time returns the chain timestamp as wall-clock time.
func (e Entry) Time() time.Time {
	return time.Unix(0, e.ChainTimestamp)
}

// Serialize returns the canonical bytes the chain hashes over.
func (e Entry) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// Digest is the sha256 hex of the serialized entry.
func (e Entry) Digest() (string, error) {
	raw, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyResult reports the first 1-based chain position that fails to check.
type VerifyResult struct {
	OK       bool   `json:"ok"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Entries  int64  `json:"entries"`
	Reason   string `json:"reason,omitempty"`
}

// VerifyEntries recomputes the chain forward from genesis. entries must be in
// storage order. Mutation of entry k is reported at k (its stored hash no longer
// matches); deletion and reordering surface where the sequence or the prev_hash
// link breaks.
func VerifyEntries(entries []Entry) VerifyResult {
	prev := GenesisHash
	var lastTS int64
	for i, e := range entries {
		pos := int64(i + 1)
		broken := func(reason string) VerifyResult {
			return VerifyResult{OK: false, BrokenAt: pos, Entries: int64(len(entries)), Reason: reason}
		}
		if e.Seq != pos {
			return broken("sequence gap or reorder")
		}
		if e.PrevHash != prev {
			return broken("prev_hash does not match predecessor")
		}
		if e.ChainTimestamp < lastTS {
			return broken("chain timestamp went backwards")
		}
		digest, err := e.Digest()
		if err != nil {
			return broken("entry cannot be serialized: " + err.Error())
		}
		if e.Hash != "" && e.Hash != digest {
			return broken("entry content does not match its hash")
		}
		prev = digest
		lastTS = e.ChainTimestamp
	}
	return VerifyResult{OK: true, Entries: int64(len(entries))}
}
