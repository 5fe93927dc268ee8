package boltdb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dogmatiq/mergedeploy/internal/x/bboltx"
)

// marshalUint64 marshals a uint64 to its binary representation.
func marshalUint64(n uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, n)
	return data
}

// unmarshalUint64 unmarshals a uint64 from its binary representation.
func unmarshalUint64(data []byte) uint64 {
	n := len(data)

	switch n {
	case 0:
		return 0
	case 8:
		return binary.BigEndian.Uint64(data)
	default:
		bboltx.Must(fmt.Errorf("data is corrupt, expected 8 bytes, got %d", n))
		panic("unreachable")
	}
}

// marshalIndexKey returns a key that sorts by t, then by id.
func marshalIndexKey(t time.Time, id string) []byte {
	return append(
		marshalUint64(uint64(t.UnixNano())),
		id...,
	)
}

// unmarshalIndexKey returns the ID component of a key produced by
// marshalIndexKey().
func unmarshalIndexKey(k []byte) string {
	return string(k[8:])
}

// marshalRecord marshals a record to its stored representation.
func marshalRecord(v any) []byte {
	data, err := json.Marshal(v)
	bboltx.Must(err)
	return data
}

// unmarshalRecord unmarshals a record from its stored representation.
func unmarshalRecord(data []byte, v any) {
	bboltx.Must(json.Unmarshal(data, v))
}
