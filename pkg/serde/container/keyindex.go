package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/eunmann/batchio/pkg/serde"
	"github.com/relab/bbhash"
)

// Index section, written after the last block:
//
//	0xFFFFFFFE | sync [16] | count u32 | mphLen u32 | mph | entries
//	entry:   fingerprint u64 | block mark u64 | ordinal u32
//	trailer: section offset u64 | "BIDX"
//
// Entries are stored at the position the MPHF assigns to their key.
const (
	indexMagic      = "BIDX"
	indexTrailerLen = 8 + 4
	indexEntryLen   = 8 + 8 + 4
)

var (
	// ErrNoIndex is returned by Seek on files written without an index.
	ErrNoIndex = errors.New("container has no key index")
	// ErrKeyNotFound is returned by Seek for keys not in the index.
	ErrKeyNotFound = errors.New("key not found")
)

type indexEntry struct {
	hash        uint64
	fingerprint uint64
	mark        int64
	ordinal     uint32
}

type indexBuilder struct {
	seen    map[uint64]struct{}
	entries []indexEntry
}

func newIndexBuilder() *indexBuilder {
	return &indexBuilder{seen: make(map[uint64]struct{})}
}

// add records the position of key. The first record with a given key hash
// wins, so duplicate keys resolve to their first occurrence.
func (b *indexBuilder) add(key []byte, mark int64, ordinal uint32) {
	h := hashKey(key)
	if _, ok := b.seen[h]; ok {
		return
	}
	b.seen[h] = struct{}{}
	b.entries = append(b.entries, indexEntry{
		hash:        h,
		fingerprint: fingerprintKey(key),
		mark:        mark,
		ordinal:     ordinal,
	})
}

func (b *indexBuilder) encode(sync [syncLen]byte) ([]byte, error) {
	var mphData []byte
	ordered := b.entries
	if len(b.entries) > 0 {
		keys := make([]uint64, len(b.entries))
		for i, e := range b.entries {
			keys[i] = e.hash
		}
		mph, err := bbhash.New(keys, bbhash.Gamma(2.0))
		if err != nil {
			return nil, fmt.Errorf("build key index: %w", err)
		}
		if mphData, err = mph.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("marshal key index: %w", err)
		}

		// bbhash positions are 1-based.
		ordered = make([]indexEntry, len(b.entries))
		for _, e := range b.entries {
			pos := mph.Find(e.hash)
			if pos == 0 || pos > uint64(len(ordered)) {
				return nil, fmt.Errorf("build key index: lookup failed for hash %x", e.hash)
			}
			ordered[pos-1] = e
		}
	}

	buf := make([]byte, 0, 4+syncLen+8+len(mphData)+len(ordered)*indexEntryLen)
	buf = binary.BigEndian.AppendUint32(buf, indexEscape)
	buf = append(buf, sync[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ordered)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(mphData)))
	buf = append(buf, mphData...)
	for _, e := range ordered {
		buf = binary.BigEndian.AppendUint64(buf, e.fingerprint)
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.mark))
		buf = binary.BigEndian.AppendUint32(buf, e.ordinal)
	}
	return buf, nil
}

// keyIndex is the loaded index section.
type keyIndex struct {
	mph     *bbhash.BBHash2
	entries []indexEntry
}

func decodeKeyIndex(section []byte, sync [syncLen]byte) (*keyIndex, error) {
	const fixed = 4 + syncLen + 4 + 4
	if len(section) < fixed {
		return nil, fmt.Errorf("%w: short key index", serde.ErrCorrupt)
	}
	if binary.BigEndian.Uint32(section[0:4]) != indexEscape || string(section[4:4+syncLen]) != string(sync[:]) {
		return nil, fmt.Errorf("%w: bad key index marker", serde.ErrCorrupt)
	}
	count := int(binary.BigEndian.Uint32(section[20:24]))
	mphLen := int(binary.BigEndian.Uint32(section[24:28]))
	rest := section[fixed:]
	if len(rest) != mphLen+count*indexEntryLen {
		return nil, fmt.Errorf("%w: key index size mismatch", serde.ErrCorrupt)
	}

	idx := &keyIndex{entries: make([]indexEntry, count)}
	if count > 0 {
		idx.mph = &bbhash.BBHash2{}
		if err := idx.mph.UnmarshalBinary(rest[:mphLen]); err != nil {
			return nil, fmt.Errorf("%w: unmarshal key index: %v", serde.ErrCorrupt, err)
		}
	}
	rest = rest[mphLen:]
	for i := range idx.entries {
		e := rest[i*indexEntryLen:]
		idx.entries[i] = indexEntry{
			fingerprint: binary.BigEndian.Uint64(e[0:8]),
			mark:        int64(binary.BigEndian.Uint64(e[8:16])),
			ordinal:     binary.BigEndian.Uint32(e[16:20]),
		}
	}
	return idx, nil
}

// lookup returns the block mark and ordinal of key. A fingerprint match is
// not proof of membership; callers compare the stored key.
func (k *keyIndex) lookup(key []byte) (int64, uint32, bool) {
	if k.mph == nil || len(k.entries) == 0 {
		return 0, 0, false
	}
	pos := k.mph.Find(hashKey(key))
	if pos == 0 || pos > uint64(len(k.entries)) {
		return 0, 0, false
	}
	e := k.entries[pos-1]
	if e.fingerprint != fingerprintKey(key) {
		return 0, 0, false
	}
	return e.mark, e.ordinal, true
}

func hashKey(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

// fingerprintKey uses a different hash than hashKey to catch keys the MPHF
// maps into the table but were never added.
func fingerprintKey(key []byte) uint64 {
	h := fnv.New64()
	h.Write(key)
	return h.Sum64()
}
