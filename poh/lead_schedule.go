package poh

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"sort"

	"github.com/mr-tron/base58"
)

// LeaderScheduleEntry defines the leader assignment for a contiguous slot range.
// StartSlot and EndSlot are inclusive.
type LeaderScheduleEntry struct {
	StartSlot uint64 // first slot in the range
	EndSlot   uint64 // last slot in the range
	Leader    string // leader ed25519 pubkey, hex or base58
}

// LeaderSchedule maintains an ordered, non-overlapping set of schedule entries.
type LeaderSchedule struct {
	entries []LeaderScheduleEntry
}

// NewLeaderSchedule constructs a schedule and validates entries (sorted, non-overlapping).
func NewLeaderSchedule(entries []LeaderScheduleEntry) (*LeaderSchedule, error) {
	ls := &LeaderSchedule{entries: entries}
	if err := ls.Validate(); err != nil {
		return nil, err
	}
	return ls, nil
}

// LeaderAt returns the leader for a given slot, or false if none assigned.
func (ls *LeaderSchedule) LeaderAt(slot uint64) (string, bool) {
	// binary search since entries sorted by StartSlot
	i := sort.Search(len(ls.entries), func(i int) bool {
		return ls.entries[i].StartSlot > slot
	})
	// candidate index is i-1
	if i > 0 {
		e := ls.entries[i-1]
		if slot >= e.StartSlot && slot <= e.EndSlot {
			return e.Leader, true
		}
	}
	return "", false
}

// LeadersInRange returns all schedule entries overlapping [startSlot, endSlot].
func (ls *LeaderSchedule) LeadersInRange(startSlot, endSlot uint64) []LeaderScheduleEntry {
	var result []LeaderScheduleEntry
	for _, e := range ls.entries {
		if e.EndSlot < startSlot || e.StartSlot > endSlot {
			continue
		}
		result = append(result, e)
	}
	return result
}

// AddEntry appends a new entry and keeps entries sorted; user should Validate afterwards.
func (ls *LeaderSchedule) AddEntry(entry LeaderScheduleEntry) {
	ls.entries = append(ls.entries, entry)
	sort.Slice(ls.entries, func(i, j int) bool {
		return ls.entries[i].StartSlot < ls.entries[j].StartSlot
	})
}

// Validate ensures entries are sorted by StartSlot and non-overlapping.
func (ls *LeaderSchedule) Validate() error {
	if len(ls.entries) == 0 {
		return nil
	}
	// sort by StartSlot
	sort.Slice(ls.entries, func(i, j int) bool {
		return ls.entries[i].StartSlot < ls.entries[j].StartSlot
	})
	// check for overlaps
	for i := 1; i < len(ls.entries); i++ {
		prev := ls.entries[i-1]
		curr := ls.entries[i]
		if curr.StartSlot <= prev.EndSlot {
			return errors.New("overlapping schedule entries detected")
		}
	}
	return nil
}

// Entries returns a copy of the underlying schedule entries.
// It preserves immutability of the internal slice while allowing callers
// to consume the real, validated schedule ranges.
func (ls *LeaderSchedule) Entries() []LeaderScheduleEntry {
	if len(ls.entries) == 0 {
		return nil
	}
	out := make([]LeaderScheduleEntry, len(ls.entries))
	copy(out, ls.entries)
	return out
}

// SlotLeader resolves the public key that must have signed the shreds of a slot.
func (ls *LeaderSchedule) SlotLeader(slot uint64) (ed25519.PublicKey, bool) {
	leader, ok := ls.LeaderAt(slot)
	if !ok {
		return nil, false
	}
	pub, err := DecodeLeaderPubkey(leader)
	if err != nil {
		return nil, false
	}
	return pub, true
}

// DecodeLeaderPubkey accepts hex (as written in genesis files) or base58.
func DecodeLeaderPubkey(s string) (ed25519.PublicKey, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}
	b, err := base58.Decode(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, errors.New("invalid leader pubkey")
	}
	return ed25519.PublicKey(b), nil
}
