package db

import (
	"encoding/binary"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testProviders(t *testing.T) map[string]DatabaseProvider {
	t.Helper()
	badgerProvider, err := NewBadgerProvider("", Options{InMemory: true})
	require.NoError(t, err)

	boltProvider, err := NewBoltProvider(t.TempDir(), Options{})
	require.NoError(t, err)

	providers := map[string]DatabaseProvider{
		"leveldb": NewMemLevelDBProvider(),
		"badger":  badgerProvider,
		"bolt":    boltProvider,
	}
	t.Cleanup(func() {
		for _, p := range providers {
			_ = p.Close()
		}
	})
	return providers
}

func key(slot uint64, index uint32) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k, slot)
	binary.BigEndian.PutUint32(k[8:], index)
	return k
}

func TestProviderGetPutDelete(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			v, err := p.Get(FamilyShreds, key(1, 1))
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, p.Put(FamilyShreds, key(1, 1), []byte("a")))
			v, err = p.Get(FamilyShreds, key(1, 1))
			require.NoError(t, err)
			assert.Equal(t, []byte("a"), v)

			// same key in another family is independent
			v, err = p.Get(FamilySlotMeta, key(1, 1))
			require.NoError(t, err)
			assert.Nil(t, v)

			ok, err := p.Has(FamilyShreds, key(1, 1))
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, p.Delete(FamilyShreds, key(1, 1)))
			ok, err = p.Has(FamilyShreds, key(1, 1))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestProviderGetBatch(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Put(FamilyEntries, []byte("x"), []byte("1")))
			require.NoError(t, p.Put(FamilyEntries, []byte("y"), []byte("2")))

			got, err := p.GetBatch(FamilyEntries, [][]byte{[]byte("x"), []byte("y"), []byte("z")})
			require.NoError(t, err)
			assert.Len(t, got, 2)
			assert.Equal(t, []byte("1"), got["x"])
			assert.Equal(t, []byte("2"), got["y"])
		})
	}
}

func TestProviderBatchAcrossFamilies(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Put(FamilyRoots, key(3, 0), []byte("old")))

			b := p.Batch()
			defer b.Close()
			b.Put(FamilyShreds, key(5, 0), []byte("shred"))
			b.Put(FamilySlotMeta, key(5, 0), []byte("meta"))
			b.Delete(FamilyRoots, key(3, 0))
			assert.Equal(t, 3, b.Len())

			// nothing visible before Write
			v, err := p.Get(FamilyShreds, key(5, 0))
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, b.Write())

			v, err = p.Get(FamilySlotMeta, key(5, 0))
			require.NoError(t, err)
			assert.Equal(t, []byte("meta"), v)
			v, err = p.Get(FamilyRoots, key(3, 0))
			require.NoError(t, err)
			assert.Nil(t, v)

			b.Reset()
			assert.Equal(t, 0, b.Len())
		})
	}
}

func TestProviderIterateRange(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			for slot := uint64(1); slot <= 3; slot++ {
				for idx := uint32(0); idx < 3; idx++ {
					require.NoError(t, p.Put(FamilyShreds, key(slot, idx), []byte(fmt.Sprintf("%d-%d", slot, idx))))
				}
			}
			// neighbouring family must not leak into the scan
			require.NoError(t, p.Put(FamilySlotMeta, key(2, 0), []byte("meta")))
			require.NoError(t, p.Put(FamilyErasureMeta, key(2, 0), []byte("erasure")))

			var got []string
			err := IteratePrefix(p, FamilyShreds, key(2, 0)[:8], func(k, v []byte) bool {
				got = append(got, string(v))
				return true
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"2-0", "2-1", "2-2"}, got)

			got = got[:0]
			err = p.IterateRange(FamilyShreds, nil, nil, func(k, v []byte) bool {
				got = append(got, string(v))
				return len(got) < 4
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"1-0", "1-1", "1-2", "2-0"}, got)

			got = got[:0]
			err = p.IterateRange(FamilyShreds, key(2, 2), key(3, 1), func(k, v []byte) bool {
				assert.Len(t, k, 12)
				got = append(got, string(v))
				return true
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"2-2", "3-0"}, got)
		})
	}
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x03}, PrefixEnd([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x02}, PrefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, PrefixEnd([]byte{0xff, 0xff}))
	assert.Nil(t, PrefixEnd(nil))
}

func TestStoreConfigValidate(t *testing.T) {
	assert.Error(t, (&StoreConfig{}).Validate())
	assert.Error(t, (&StoreConfig{Type: "sqlite", Directory: "x"}).Validate())
	assert.Error(t, (&StoreConfig{Type: LevelDBStoreType}).Validate())
	assert.Error(t, (&StoreConfig{Type: RedisStoreType}).Validate())
	assert.Error(t, (&StoreConfig{Type: RocksDBStoreType, InMemory: true}).Validate())
	assert.Error(t, (&StoreConfig{Type: BoltStoreType, InMemory: true}).Validate())
	assert.NoError(t, (&StoreConfig{Type: LevelDBStoreType, InMemory: true}).Validate())
	assert.NoError(t, (&StoreConfig{Type: BadgerStoreType, Directory: "/tmp/x"}).Validate())
	assert.NoError(t, (&StoreConfig{Type: RedisStoreType, RedisAddress: "localhost:6379"}).Validate())
}

func TestCreateProviderInMemory(t *testing.T) {
	p, err := CreateProvider(&StoreConfig{Type: LevelDBStoreType, InMemory: true})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Put(FamilyMeta, []byte("k"), []byte("v")))
}

func TestIterationOrderMatchesKeyOrder(t *testing.T) {
	p := NewMemLevelDBProvider()
	defer p.Close()

	rapid.Check(t, func(t *rapid.T) {
		slot := rapid.Uint64().Draw(t, "slot")
		indexes := rapid.SliceOfNDistinct(rapid.Uint32(), 1, 20, rapid.ID[uint32]).Draw(t, "indexes")

		b := p.Batch()
		defer b.Close()
		for _, idx := range indexes {
			b.Put(FamilyEntries, key(slot, idx), nil)
		}
		if err := b.Write(); err != nil {
			t.Fatalf("write: %v", err)
		}

		var prev []byte
		count := 0
		err := IteratePrefix(p, FamilyEntries, key(slot, 0)[:8], func(k, _ []byte) bool {
			if prev != nil && string(prev) >= string(k) {
				t.Fatalf("keys out of order: %x then %x", prev, k)
			}
			prev = k
			count++
			return true
		})
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		if count < len(indexes) {
			t.Fatalf("expected at least %d keys, got %d", len(indexes), count)
		}
	})
}

func TestBoltIterateAcrossPages(t *testing.T) {
	p, err := NewBoltProvider(t.TempDir(), Options{})
	require.NoError(t, err)
	defer p.Close()

	total := boltPageSize + 5
	b := p.Batch()
	for i := 0; i < total; i++ {
		b.Put(FamilyShreds, key(9, uint32(i)), []byte{1})
	}
	require.NoError(t, b.Write())

	seen := 0
	err = p.IterateRange(FamilyShreds, key(9, 0), nil, func(k, v []byte) bool {
		assert.Equal(t, key(9, uint32(seen)), k)
		seen++
		// writes from inside the callback must not deadlock
		require.NoError(t, p.Put(FamilyMeta, []byte("last"), k))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, total, seen)
}

func TestIsCorrupted(t *testing.T) {
	assert.False(t, isCorrupted(nil))
	assert.False(t, isCorrupted(fmt.Errorf("disk full")))

	corrupt := lerrors.NewErrCorrupted(storage.FileDesc{Type: storage.TypeManifest, Num: 1}, fmt.Errorf("bad record"))
	assert.True(t, isCorrupted(corrupt))
	assert.True(t, isCorrupted(pkgerrors.Wrap(corrupt, "open")))
}
