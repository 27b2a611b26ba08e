package shredder

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"
	ledgererr "github.com/mezonai/mmn-ledger/errors"
	"github.com/mezonai/mmn-ledger/logx"
	"github.com/mezonai/mmn-ledger/types"
)

// Engine is the systematic Reed-Solomon codec for erasure sets. A data shard is the full
// signed data shred zero-padded to ShardSize, so recovered shards decode back into shreds
// that still carry the leader signature. Engine keeps no per-set state; encoders are cached
// per geometry only.
type Engine struct {
	limits types.ShredLimits

	mu       sync.Mutex
	encoders map[[2]int]reedsolomon.Encoder
}

func NewEngine(limits types.ShredLimits) *Engine {
	return &Engine{
		limits:   limits,
		encoders: make(map[[2]int]reedsolomon.Encoder),
	}
}

func (e *Engine) Limits() types.ShredLimits { return e.limits }

func (e *Engine) encoder(numData, numCoding int) (reedsolomon.Encoder, error) {
	key := [2]int{numData, numCoding}
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encoders[key]; ok {
		return enc, nil
	}
	enc, err := reedsolomon.New(numData, numCoding)
	if err != nil {
		return nil, err
	}
	e.encoders[key] = enc
	return enc, nil
}

func (e *Engine) dataShard(s *types.Shred) ([]byte, error) {
	raw := s.Encode()
	size := e.limits.ShardSize()
	if len(raw) > size {
		return nil, fmt.Errorf("data shred %s is %d bytes, shard size %d", s.ID(), len(raw), size)
	}
	shard := make([]byte, size)
	copy(shard, raw)
	return shard, nil
}

// Encode produces numCoding signed coding shreds for one erasure set of signed data shreds.
// The data shreds must be contiguous and share slot and fec set index. Coding shreds take
// indexes firstCodingIndex, firstCodingIndex+1, ...
func (e *Engine) Encode(data []types.Shred, numCoding int, firstCodingIndex uint32, priv ed25519.PrivateKey) ([]types.Shred, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty erasure set")
	}
	slot := data[0].Common.Slot
	fecSetIndex := data[0].Common.FECSetIndex
	version := data[0].Common.Version

	shards := make([][]byte, len(data)+numCoding)
	for i := range data {
		s := &data[i]
		if !s.IsData() || s.Common.Slot != slot || s.Common.FECSetIndex != fecSetIndex || s.Common.Index != fecSetIndex+uint32(i) {
			return nil, fmt.Errorf("shred %s does not belong at position %d of set %d/%d", s.ID(), i, slot, fecSetIndex)
		}
		shard, err := e.dataShard(s)
		if err != nil {
			return nil, err
		}
		shards[i] = shard
	}
	for i := len(data); i < len(shards); i++ {
		shards[i] = make([]byte, e.limits.ShardSize())
	}

	enc, err := e.encoder(len(data), numCoding)
	if err != nil {
		return nil, fmt.Errorf("new encoder: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode shards: %w", err)
	}

	coding := make([]types.Shred, numCoding)
	for j := 0; j < numCoding; j++ {
		coding[j] = types.NewCodingShred(slot, firstCodingIndex+uint32(j), fecSetIndex, version,
			uint16(len(data)), uint16(numCoding), uint16(j), shards[len(data)+j])
		coding[j].Sign(priv)
	}
	return coding, nil
}

// Recover rebuilds the missing data shreds of an erasure set from any NumData of its shreds.
// Shreds outside the set are ignored. Each rebuilt shred is decoded and passed to verify;
// one that does not decode to the expected identity or fails verify yields CorruptShred.
// Recovered shreds are returned in index order. Missing coding shreds are not rebuilt since
// they cannot be re-signed.
func (e *Engine) Recover(available []types.Shred, meta *types.ErasureMeta, verify func(*types.Shred) bool) ([]types.Shred, error) {
	numData, numCoding := int(meta.NumData), int(meta.NumCoding)
	if numData == 0 || numCoding == 0 {
		return nil, fmt.Errorf("invalid erasure meta %d+%d", numData, numCoding)
	}
	if meta.ShardSize != e.limits.ShardSize() {
		return nil, ledgererr.NewError(ledgererr.ErrCodeCorruptShred, meta.Slot,
			"erasure set %s shard size %d, want %d", meta.ID(), meta.ShardSize, e.limits.ShardSize())
	}

	shards := make([][]byte, numData+numCoding)
	present := 0
	for i := range available {
		s := &available[i]
		if s.Common.Slot != meta.Slot || s.Common.FECSetIndex != meta.FECSetIndex {
			continue
		}
		var pos int
		var shard []byte
		switch {
		case s.IsData():
			lo, hi := meta.DataIndexRange()
			if s.Common.Index < lo || s.Common.Index >= hi {
				continue
			}
			pos = int(s.Common.Index - lo)
			var err error
			if shard, err = e.dataShard(s); err != nil {
				continue
			}
		case s.IsCoding():
			if !meta.Consistent(s) {
				continue
			}
			pos = numData + int(s.Coding.Position)
			shard = make([]byte, len(s.Payload))
			copy(shard, s.Payload)
		default:
			continue
		}
		if shards[pos] == nil {
			shards[pos] = shard
			present++
		}
	}

	missing := make([]int, 0, numData)
	for i := 0; i < numData; i++ {
		if shards[i] == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if present < numData {
		return nil, ledgererr.NewError(ledgererr.ErrCodeInsufficientShreds, meta.Slot,
			"erasure set %s has %d of %d shreds", meta.ID(), present, numData)
	}

	enc, err := e.encoder(numData, numCoding)
	if err != nil {
		return nil, fmt.Errorf("new encoder: %w", err)
	}
	if err := enc.ReconstructData(shards); err != nil {
		return nil, ledgererr.NewError(ledgererr.ErrCodeCorruptShred, meta.Slot,
			"reconstruct erasure set %s: %v", meta.ID(), err)
	}

	recovered := make([]types.Shred, 0, len(missing))
	for _, pos := range missing {
		index := meta.FECSetIndex + uint32(pos)
		s, err := types.DecodeShred(shards[pos])
		if err != nil {
			logx.Warn("RECOVERY", fmt.Sprintf("slot=%d index=%d decode failed: %v", meta.Slot, index, err))
			return nil, ledgererr.NewShredError(ledgererr.ErrCodeCorruptShred, meta.Slot, index,
				"recovered shred does not decode: %v", err)
		}
		if !s.IsData() || s.Common.Slot != meta.Slot || s.Common.Index != index || s.Common.FECSetIndex != meta.FECSetIndex {
			return nil, ledgererr.NewShredError(ledgererr.ErrCodeCorruptShred, meta.Slot, index,
				"recovered shred decodes as %s", s.ID())
		}
		if err := s.Sanitize(e.limits); err != nil {
			return nil, ledgererr.NewShredError(ledgererr.ErrCodeCorruptShred, meta.Slot, index,
				"recovered shred malformed: %v", err)
		}
		if verify != nil && !verify(&s) {
			return nil, ledgererr.NewShredError(ledgererr.ErrCodeCorruptShred, meta.Slot, index,
				"recovered shred signature does not verify")
		}
		recovered = append(recovered, s)
	}
	return recovered, nil
}
