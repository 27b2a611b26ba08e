package types

import (
	"crypto/ed25519"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLimits = ShredLimits{MaxDataPayload: 64, MaxNumData: 4, MaxNumCoding: 2}

func TestDecodeShredNeverPanicsOnGarbage(t *testing.T) {
	f := fuzz.NewWithSeed(42).NilChance(0).NumElements(0, 2*DataShredHeaderSize+64)
	for i := 0; i < 2000; i++ {
		var b []byte
		f.Fuzz(&b)
		if len(b) > SignatureSize {
			// bias towards the two known variants so the header branches run
			b[SignatureSize] = byte(i % 3)
		}
		assert.NotPanics(t, func() {
			s, err := DecodeShred(b)
			if err != nil {
				return
			}
			_ = s.Sanitize(testLimits)
			_ = s.Encode()
		})
	}
}

func TestDecodeShredStripsZeroPadding(t *testing.T) {
	s := NewDataShred(7, 3, 1, 0, 2, FlagDataComplete, []byte("hello"))
	wire := append(s.Encode(), make([]byte, 20)...)

	got, err := DecodeShred(wire)
	require.NoError(t, err)
	assert.True(t, got.Equal(&s))
	assert.Equal(t, []byte("hello"), got.Payload)

	wire[len(wire)-1] = 1
	_, err = DecodeShred(wire)
	assert.Error(t, err)
}

func TestSignatureCoversHeaderAndPayload(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	s := NewDataShred(7, 0, 1, 0, 0, 0, []byte("payload"))
	s.Sign(priv)
	assert.True(t, s.Verify(pub))

	tampered := s
	tampered.Common.Index = 1
	assert.False(t, tampered.Verify(pub))

	tampered = s
	tampered.Payload = []byte("paylOad")
	assert.False(t, tampered.Verify(pub))
}

func TestSanitize(t *testing.T) {
	ok := NewDataShred(7, 5, 1, 4, 0, 0, []byte("x"))
	assert.NoError(t, ok.Sanitize(testLimits))

	belowSet := NewDataShred(7, 3, 1, 4, 0, 0, []byte("x"))
	assert.Error(t, belowSet.Sanitize(testLimits))

	outsideSet := NewDataShred(7, 8, 1, 4, 0, 0, []byte("x"))
	assert.Error(t, outsideSet.Sanitize(testLimits))

	badFlags := NewDataShred(7, 5, 1, 4, 0, 0x80, []byte("x"))
	assert.Error(t, badFlags.Sanitize(testLimits))

	noParent := NewDataShred(7, 5, 0, 4, 0, 0, []byte("x"))
	assert.Error(t, noParent.Sanitize(testLimits))

	genesis := NewDataShred(0, 0, 0, 0, 0, 0, []byte("x"))
	assert.NoError(t, genesis.Sanitize(testLimits))

	parity := make([]byte, testLimits.ShardSize())
	coding := NewCodingShred(7, 1, 4, 0, 4, 2, 1, parity)
	assert.NoError(t, coding.Sanitize(testLimits))

	badPosition := NewCodingShred(7, 1, 4, 0, 4, 2, 2, parity)
	assert.Error(t, badPosition.Sanitize(testLimits))

	shortParity := NewCodingShred(7, 1, 4, 0, 4, 2, 1, parity[:10])
	assert.Error(t, shortParity.Sanitize(testLimits))
}
