package rpc

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/avrorpc/avrorpc/pkg/avro"
)

// headerList is the avro-encodable container for a Headers map, mirroring
// the array-of-entries shape ecosystem Avro code uses in place of a
// native string-to-bytes map.
type headerList struct {
	Entries []HeaderEntry `avro:"entries" json:"entries"`
}

var headerListType = avro.NewType("org.avrorpc.HeaderList", headerList{})

func encodeHeaders(h *Headers) ([]byte, error) {
	return headerListType.Encode(&headerList{Entries: h.entriesForWire()})
}

func decodeHeaders(data []byte) (*Headers, error) {
	if len(data) == 0 {
		return NewHeaders(), nil
	}
	v, err := headerListType.Decode(data)
	if err != nil {
		return nil, err
	}
	return headersFromEntries(v.(*headerList).Entries), nil
}

// callIDCounter hands out process-local call ids. Reuse after completion
// (per the Channel invariant) is satisfied implicitly: ids only need to
// be unique among calls outstanding on one channel at any instant, and a
// monotonic counter trivially satisfies that without needing a free list.
var callIDCounter uint32

func nextCallID() uint32 {
	return atomic.AddUint32(&callIDCounter, 1)
}

func encodeCallID(id uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return b[:]
}

func decodeCallID(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// responseFlag discriminates a two-way response's payload segment.
type responseFlag byte

const (
	flagSuccess responseFlag = 0
	flagError   responseFlag = 1
)
