package types

// ErasureMeta describes one erasure set. It is written when the first coding shred of the
// set arrives, since only coding shreds carry the set geometry.
type ErasureMeta struct {
	Slot             uint64 `json:"slot"`
	FECSetIndex      uint32 `json:"fec_set_index"`
	NumData          uint16 `json:"num_data"`
	NumCoding        uint16 `json:"num_coding"`
	FirstCodingIndex uint32 `json:"first_coding_index"`
	ShardSize        int    `json:"shard_size"`
}

func NewErasureMeta(s *Shred) *ErasureMeta {
	return &ErasureMeta{
		Slot:             s.Common.Slot,
		FECSetIndex:      s.Common.FECSetIndex,
		NumData:          s.Coding.NumData,
		NumCoding:        s.Coding.NumCoding,
		FirstCodingIndex: s.Common.Index - uint32(s.Coding.Position),
		ShardSize:        len(s.Payload),
	}
}

func (e *ErasureMeta) ID() ErasureSetID {
	return ErasureSetID{Slot: e.Slot, FECSetIndex: e.FECSetIndex}
}

// Consistent reports whether a coding shred agrees with this set's geometry.
func (e *ErasureMeta) Consistent(s *Shred) bool {
	return s.IsCoding() &&
		s.Common.FECSetIndex == e.FECSetIndex &&
		s.Coding.NumData == e.NumData &&
		s.Coding.NumCoding == e.NumCoding &&
		s.Common.Index-uint32(s.Coding.Position) == e.FirstCodingIndex &&
		len(s.Payload) == e.ShardSize
}

// DataIndexRange is the half-open range of data indexes protected by the set.
func (e *ErasureMeta) DataIndexRange() (uint32, uint32) {
	return e.FECSetIndex, e.FECSetIndex + uint32(e.NumData)
}

// CodingIndexRange is the half-open range of coding indexes of the set.
func (e *ErasureMeta) CodingIndexRange() (uint32, uint32) {
	return e.FirstCodingIndex, e.FirstCodingIndex + uint32(e.NumCoding)
}

// ErasureSetStatus summarises what recovery can do for a set.
type ErasureSetStatus int

const (
	// ErasureDataFull means every data shred is present; nothing to recover.
	ErasureDataFull ErasureSetStatus = iota
	// ErasureCanRecover means at least NumData shreds are present and some data is missing.
	ErasureCanRecover
	// ErasureStillNeed means fewer than NumData shreds are present.
	ErasureStillNeed
)

func (s ErasureSetStatus) String() string {
	switch s {
	case ErasureDataFull:
		return "data_full"
	case ErasureCanRecover:
		return "can_recover"
	case ErasureStillNeed:
		return "still_need"
	default:
		return "unknown"
	}
}

// Status classifies the set given the number of present data and coding shreds.
func (e *ErasureMeta) Status(numData, numCoding int) ErasureSetStatus {
	if numData >= int(e.NumData) {
		return ErasureDataFull
	}
	if numData+numCoding >= int(e.NumData) {
		return ErasureCanRecover
	}
	return ErasureStillNeed
}
