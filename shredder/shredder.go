// shredder/shredder.go
package shredder

import (
	"crypto/ed25519"
	"fmt"
	"math"

	"github.com/mezonai/mmn-ledger/poh"
	"github.com/mezonai/mmn-ledger/types"
)

const (
	DefaultDataShredsPerSet   = 32
	DefaultCodingShredsPerSet = 32
	DefaultMaxDataPayload     = 1051
)

type Config struct {
	DataShredsPerSet   int    // N
	CodingShredsPerSet int    // M
	MaxDataPayload     int    // payload bytes per data shred
	Version            uint16 // shred version stamped on every shred
}

func DefaultConfig() Config {
	return Config{
		DataShredsPerSet:   DefaultDataShredsPerSet,
		CodingShredsPerSet: DefaultCodingShredsPerSet,
		MaxDataPayload:     DefaultMaxDataPayload,
	}
}

func (c Config) Validate() error {
	if c.DataShredsPerSet <= 0 || c.CodingShredsPerSet <= 0 {
		return fmt.Errorf("erasure set size must be positive, got %d+%d", c.DataShredsPerSet, c.CodingShredsPerSet)
	}
	if c.DataShredsPerSet > math.MaxUint16 || c.CodingShredsPerSet > math.MaxUint16 {
		return fmt.Errorf("erasure set size %d+%d overflows header", c.DataShredsPerSet, c.CodingShredsPerSet)
	}
	if c.MaxDataPayload <= 0 || c.MaxDataPayload > math.MaxUint16 {
		return fmt.Errorf("invalid max data payload %d", c.MaxDataPayload)
	}
	return nil
}

// Limits are the sanitize bounds matching this configuration.
func (c Config) Limits() types.ShredLimits {
	return types.ShredLimits{
		MaxDataPayload: c.MaxDataPayload,
		MaxNumData:     c.DataShredsPerSet,
		MaxNumCoding:   c.CodingShredsPerSet,
	}
}

// Shredder turns entry batches of a slot into signed data and coding shreds.
type Shredder struct {
	cfg     Config
	erasure *Engine
}

func New(cfg Config) (*Shredder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Shredder{cfg: cfg, erasure: NewEngine(cfg.Limits())}, nil
}

func (s *Shredder) Config() Config { return s.cfg }

func (s *Shredder) Engine() *Engine { return s.erasure }

// MakeShreds produces every shred of a slot. Each batch becomes a run of data shreds whose
// last one carries FlagDataComplete; the final data shred of the slot carries FlagLastInSlot.
// Data shreds are grouped into erasure sets of N in index order and M coding shreds are
// produced per set.
func (s *Shredder) MakeShreds(slot, parent uint64, batches [][]poh.Entry, priv ed25519.PrivateKey) (data, coding []types.Shred, err error) {
	if len(batches) == 0 {
		return nil, nil, fmt.Errorf("slot %d: no entry batches", slot)
	}
	if parent > slot || (parent == slot && slot != 0) || slot-parent > math.MaxUint16 {
		return nil, nil, fmt.Errorf("slot %d: invalid parent %d", slot, parent)
	}
	parentOffset := uint16(slot - parent)

	var index uint32
	for b, batch := range batches {
		chunks := splitPayload(poh.EncodeEntries(batch), s.cfg.MaxDataPayload)
		for c, chunk := range chunks {
			var flags uint8
			if c == len(chunks)-1 {
				flags |= types.FlagDataComplete
				if b == len(batches)-1 {
					flags |= types.FlagLastInSlot
				}
			}
			// fec set index is assigned once the sets are laid out
			data = append(data, types.NewDataShred(slot, index, parentOffset, 0, s.cfg.Version, flags, chunk))
			index++
		}
	}

	var codingIndex uint32
	for _, set := range groupSets(data, s.cfg.DataShredsPerSet) {
		fecSetIndex := set[0].Common.Index
		for i := range set {
			set[i].Common.FECSetIndex = fecSetIndex
			set[i].Sign(priv)
		}
		parity, err := s.erasure.Encode(set, s.cfg.CodingShredsPerSet, codingIndex, priv)
		if err != nil {
			return nil, nil, fmt.Errorf("slot %d fec set %d: %w", slot, fecSetIndex, err)
		}
		coding = append(coding, parity...)
		codingIndex += uint32(len(parity))
	}

	return data, coding, nil
}

func splitPayload(packed []byte, maxPayload int) [][]byte {
	n := (len(packed) + maxPayload - 1) / maxPayload
	out := make([][]byte, 0, n)
	for off := 0; off < len(packed); off += maxPayload {
		end := off + maxPayload
		if end > len(packed) {
			end = len(packed)
		}
		out = append(out, packed[off:end])
	}
	return out
}

// groupSets splits data shreds into consecutive groups of n; the last group may be shorter.
// Groups alias the input slice.
func groupSets(data []types.Shred, n int) [][]types.Shred {
	groups := make([][]types.Shred, 0, (len(data)+n-1)/n)
	for i := 0; i < len(data); i += n {
		j := i + n
		if j > len(data) {
			j = len(data)
		}
		groups = append(groups, data[i:j])
	}
	return groups
}
