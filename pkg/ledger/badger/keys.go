package badger

import "encoding/binary"

// Database Key Namespace
// ======================
//
// Prefix   Key Format             Value
// ================================================================
// "r:"     r:<seq uint64 BE>      record (XDR)
// "p:"     p:<path>               seq uint64 BE of the winning record
// "seq:"   seq:records            badger.Sequence lease
//
// Records are keyed by a monotonically increasing sequence number, so a
// prefix scan over "r:" yields them in append order. The "p:" index always
// points at the most recently appended record for a path; older records stay
// in place and are only visible through Export.

const (
	prefixRecord = "r:"
	prefixPath   = "p:"
)

var keyRecordSequence = []byte("seq:records")

func keyRecord(seq uint64) []byte {
	key := make([]byte, len(prefixRecord)+8)
	copy(key, prefixRecord)
	binary.BigEndian.PutUint64(key[len(prefixRecord):], seq)
	return key
}

func keyPath(path string) []byte {
	return []byte(prefixPath + path)
}

func encodeSeq(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func decodeSeq(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}
