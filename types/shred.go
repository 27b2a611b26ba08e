// types/shred.go
package types

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
)

type ShredType uint8 // 0=data, 1=coding

const (
	ShredTypeData   ShredType = 0
	ShredTypeCoding ShredType = 1
)

func (t ShredType) String() string {
	switch t {
	case ShredTypeData:
		return "data"
	case ShredTypeCoding:
		return "coding"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Data shred flags
const (
	FlagDataComplete uint8 = 1 << 0 // last shred of an entry batch
	FlagLastInSlot   uint8 = 1 << 1 // last data shred of the block

	knownFlags = FlagDataComplete | FlagLastInSlot
)

// Wire layout sizes.
// common:  signature(64) | type(1) | slot(8) | index(4) | version(2) | fec_set_index(4)
// data:    parent_offset(2) | flags(1) | size(2)
// coding:  num_data(2) | num_coding(2) | position(2)
const (
	SignatureSize         = 64
	CommonHeaderSize      = SignatureSize + 1 + 8 + 4 + 2 + 4
	DataHeaderSize        = 2 + 1 + 2
	CodingHeaderSize      = 2 + 2 + 2
	DataShredHeaderSize   = CommonHeaderSize + DataHeaderSize
	CodingShredHeaderSize = CommonHeaderSize + CodingHeaderSize
)

type ShredCommonHeader struct {
	Signature   [SignatureSize]byte // Ed25519(header_without_sig || payload)
	Type        ShredType
	Slot        uint64
	Index       uint32 // position within the slot, per shred type
	Version     uint16 // cluster/shred version
	FECSetIndex uint32 // index of the first data shred of the erasure set
}

type DataShredHeader struct {
	ParentOffset uint16 // slot - parent slot
	Flags        uint8
	Size         uint16 // payload length, padding excluded
}

type CodingShredHeader struct {
	NumData   uint16
	NumCoding uint16
	Position  uint16 // position among the coding shreds of the set
}

// Shred is a tagged variant: Type selects which of Data or Coding is meaningful.
type Shred struct {
	Common  ShredCommonHeader
	Data    DataShredHeader
	Coding  CodingShredHeader
	Payload []byte
}

// ShredID is the identity of a shred inside the blockstore.
type ShredID struct {
	Slot  uint64
	Index uint32
	Type  ShredType
}

func (id ShredID) String() string {
	return fmt.Sprintf("%d/%d/%s", id.Slot, id.Index, id.Type)
}

// ErasureSetID names one erasure set of a slot.
type ErasureSetID struct {
	Slot        uint64
	FECSetIndex uint32
}

func (id ErasureSetID) String() string {
	return fmt.Sprintf("%d/fec%d", id.Slot, id.FECSetIndex)
}

// NewDataShred builds an unsigned data shred.
func NewDataShred(slot uint64, index uint32, parentOffset uint16, fecSetIndex uint32, version uint16, flags uint8, payload []byte) Shred {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Shred{
		Common: ShredCommonHeader{
			Type:        ShredTypeData,
			Slot:        slot,
			Index:       index,
			Version:     version,
			FECSetIndex: fecSetIndex,
		},
		Data: DataShredHeader{
			ParentOffset: parentOffset,
			Flags:        flags,
			Size:         uint16(len(payload)),
		},
		Payload: p,
	}
}

// NewCodingShred builds an unsigned coding shred carrying one parity shard.
func NewCodingShred(slot uint64, index uint32, fecSetIndex uint32, version uint16, numData, numCoding, position uint16, parity []byte) Shred {
	p := make([]byte, len(parity))
	copy(p, parity)
	return Shred{
		Common: ShredCommonHeader{
			Type:        ShredTypeCoding,
			Slot:        slot,
			Index:       index,
			Version:     version,
			FECSetIndex: fecSetIndex,
		},
		Coding: CodingShredHeader{
			NumData:   numData,
			NumCoding: numCoding,
			Position:  position,
		},
		Payload: p,
	}
}

func (s *Shred) ID() ShredID {
	return ShredID{Slot: s.Common.Slot, Index: s.Common.Index, Type: s.Common.Type}
}

func (s *Shred) ErasureSetID() ErasureSetID {
	return ErasureSetID{Slot: s.Common.Slot, FECSetIndex: s.Common.FECSetIndex}
}

func (s *Shred) Slot() uint64  { return s.Common.Slot }
func (s *Shred) Index() uint32 { return s.Common.Index }
func (s *Shred) IsData() bool  { return s.Common.Type == ShredTypeData }

func (s *Shred) IsCoding() bool { return s.Common.Type == ShredTypeCoding }

func (s *Shred) LastInSlot() bool {
	return s.IsData() && s.Data.Flags&FlagLastInSlot != 0
}

func (s *Shred) DataComplete() bool {
	return s.IsData() && s.Data.Flags&(FlagDataComplete|FlagLastInSlot) != 0
}

// ParentSlot is only defined for data shreds.
func (s *Shred) ParentSlot() (uint64, error) {
	if !s.IsData() {
		return 0, fmt.Errorf("coding shred has no parent")
	}
	off := uint64(s.Data.ParentOffset)
	if off > s.Common.Slot || (off == 0 && s.Common.Slot != 0) {
		return 0, fmt.Errorf("invalid parent offset %d for slot %d", off, s.Common.Slot)
	}
	return s.Common.Slot - off, nil
}

// HeaderSize returns the encoded header length for the shred's variant.
func (s *Shred) HeaderSize() int {
	if s.IsCoding() {
		return CodingShredHeaderSize
	}
	return DataShredHeaderSize
}

// Encode returns the canonical wire bytes. Data payloads are written without padding.
func (s *Shred) Encode() []byte {
	var payload []byte
	switch s.Common.Type {
	case ShredTypeData:
		payload = s.Payload
		if int(s.Data.Size) < len(payload) {
			payload = payload[:s.Data.Size]
		}
	case ShredTypeCoding:
		payload = s.Payload
	default:
		panic(fmt.Sprintf("encode: unknown shred type %d", s.Common.Type))
	}

	buf := make([]byte, s.HeaderSize()+len(payload))
	offset := s.putCommon(buf)

	switch s.Common.Type {
	case ShredTypeData:
		binary.LittleEndian.PutUint16(buf[offset:], s.Data.ParentOffset)
		buf[offset+2] = s.Data.Flags
		binary.LittleEndian.PutUint16(buf[offset+3:], uint16(len(payload)))
		offset += DataHeaderSize
	case ShredTypeCoding:
		binary.LittleEndian.PutUint16(buf[offset:], s.Coding.NumData)
		binary.LittleEndian.PutUint16(buf[offset+2:], s.Coding.NumCoding)
		binary.LittleEndian.PutUint16(buf[offset+4:], s.Coding.Position)
		offset += CodingHeaderSize
	}

	copy(buf[offset:], payload)
	return buf
}

func (s *Shred) putCommon(buf []byte) int {
	offset := 0
	copy(buf[offset:offset+SignatureSize], s.Common.Signature[:])
	offset += SignatureSize
	buf[offset] = byte(s.Common.Type)
	offset++
	binary.LittleEndian.PutUint64(buf[offset:], s.Common.Slot)
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], s.Common.Index)
	offset += 4
	binary.LittleEndian.PutUint16(buf[offset:], s.Common.Version)
	offset += 2
	binary.LittleEndian.PutUint32(buf[offset:], s.Common.FECSetIndex)
	offset += 4
	return offset
}

// DecodeShred parses wire bytes. Data shreds may carry trailing zero padding (as produced by
// erasure recovery); it is cut using the size field.
func DecodeShred(b []byte) (Shred, error) {
	if len(b) < CommonHeaderSize {
		return Shred{}, fmt.Errorf("invalid shred: too short (%d bytes)", len(b))
	}

	var shred Shred
	offset := 0

	copy(shred.Common.Signature[:], b[offset:offset+SignatureSize])
	offset += SignatureSize
	shred.Common.Type = ShredType(b[offset])
	offset++
	shred.Common.Slot = binary.LittleEndian.Uint64(b[offset:])
	offset += 8
	shred.Common.Index = binary.LittleEndian.Uint32(b[offset:])
	offset += 4
	shred.Common.Version = binary.LittleEndian.Uint16(b[offset:])
	offset += 2
	shred.Common.FECSetIndex = binary.LittleEndian.Uint32(b[offset:])
	offset += 4

	switch shred.Common.Type {
	case ShredTypeData:
		if len(b) < DataShredHeaderSize {
			return Shred{}, fmt.Errorf("invalid data shred: too short (%d bytes)", len(b))
		}
		shred.Data.ParentOffset = binary.LittleEndian.Uint16(b[offset:])
		shred.Data.Flags = b[offset+2]
		shred.Data.Size = binary.LittleEndian.Uint16(b[offset+3:])
		offset += DataHeaderSize

		end := offset + int(shred.Data.Size)
		if end > len(b) {
			return Shred{}, fmt.Errorf("invalid data shred: size %d exceeds buffer", shred.Data.Size)
		}
		if !allZero(b[end:]) {
			return Shred{}, fmt.Errorf("invalid data shred: non-zero bytes after payload")
		}
		shred.Payload = make([]byte, shred.Data.Size)
		copy(shred.Payload, b[offset:end])

	case ShredTypeCoding:
		if len(b) < CodingShredHeaderSize {
			return Shred{}, fmt.Errorf("invalid coding shred: too short (%d bytes)", len(b))
		}
		shred.Coding.NumData = binary.LittleEndian.Uint16(b[offset:])
		shred.Coding.NumCoding = binary.LittleEndian.Uint16(b[offset+2:])
		shred.Coding.Position = binary.LittleEndian.Uint16(b[offset+4:])
		offset += CodingHeaderSize

		shred.Payload = make([]byte, len(b)-offset)
		copy(shred.Payload, b[offset:])

	default:
		return Shred{}, fmt.Errorf("invalid shred: unknown type %d", shred.Common.Type)
	}

	return shred, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// SignedMessage is the byte string covered by the leader signature.
func (s *Shred) SignedMessage() []byte {
	return s.Encode()[SignatureSize:]
}

func (s *Shred) Sign(priv ed25519.PrivateKey) {
	sig := ed25519.Sign(priv, s.SignedMessage())
	copy(s.Common.Signature[:], sig)
}

func (s *Shred) Verify(pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, s.SignedMessage(), s.Common.Signature[:])
}

// Equal compares canonical encodings.
func (s *Shred) Equal(other *Shred) bool {
	return bytes.Equal(s.Encode(), other.Encode())
}

// ShredLimits are the protocol bounds a shred is sanitized against.
type ShredLimits struct {
	MaxDataPayload int
	MaxNumData     int
	MaxNumCoding   int
}

// ShardSize is the erasure shard length: a full data shred including headers.
func (l ShredLimits) ShardSize() int {
	return DataShredHeaderSize + l.MaxDataPayload
}

// MaxShredSize is the largest encoded shred of either type.
func (l ShredLimits) MaxShredSize() int {
	return CodingShredHeaderSize + l.ShardSize()
}

// Sanitize checks header consistency without any signature or storage lookup.
func (s *Shred) Sanitize(limits ShredLimits) error {
	switch s.Common.Type {
	case ShredTypeData:
		if s.Data.Flags&^knownFlags != 0 {
			return fmt.Errorf("unknown flags %#x", s.Data.Flags)
		}
		if int(s.Data.Size) != len(s.Payload) {
			return fmt.Errorf("size %d does not match payload length %d", s.Data.Size, len(s.Payload))
		}
		if int(s.Data.Size) > limits.MaxDataPayload {
			return fmt.Errorf("payload %d exceeds max %d", s.Data.Size, limits.MaxDataPayload)
		}
		if s.Common.Index < s.Common.FECSetIndex {
			return fmt.Errorf("index %d below fec set index %d", s.Common.Index, s.Common.FECSetIndex)
		}
		if limits.MaxNumData > 0 && int(s.Common.Index-s.Common.FECSetIndex) >= limits.MaxNumData {
			return fmt.Errorf("index %d outside fec set %d", s.Common.Index, s.Common.FECSetIndex)
		}
		if _, err := s.ParentSlot(); err != nil {
			return err
		}
	case ShredTypeCoding:
		c := s.Coding
		if c.NumData == 0 || c.NumCoding == 0 {
			return fmt.Errorf("empty erasure set %d+%d", c.NumData, c.NumCoding)
		}
		if limits.MaxNumData > 0 && int(c.NumData) > limits.MaxNumData {
			return fmt.Errorf("num_data %d exceeds max %d", c.NumData, limits.MaxNumData)
		}
		if limits.MaxNumCoding > 0 && int(c.NumCoding) > limits.MaxNumCoding {
			return fmt.Errorf("num_coding %d exceeds max %d", c.NumCoding, limits.MaxNumCoding)
		}
		if c.Position >= c.NumCoding {
			return fmt.Errorf("position %d outside %d coding shreds", c.Position, c.NumCoding)
		}
		if uint32(c.Position) > s.Common.Index {
			return fmt.Errorf("position %d above index %d", c.Position, s.Common.Index)
		}
		if len(s.Payload) != limits.ShardSize() {
			return fmt.Errorf("parity length %d, want %d", len(s.Payload), limits.ShardSize())
		}
	default:
		return fmt.Errorf("unknown shred type %d", s.Common.Type)
	}
	return nil
}
