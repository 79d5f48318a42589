package wal

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// LSN is a log sequence number. The first record in a log has LSN 1; the zero
// value means "no record".
type LSN uint64

// Record is the unit of durability. Page is the full page image that recovery
// installs for Object, provided Generation still matches the catalog.
type Record struct {
	LSN        LSN    `cbor:"1,keyasint"`
	Object     uint64 `cbor:"2,keyasint"`
	Generation uint64 `cbor:"3,keyasint"`
	Page       []byte `cbor:"4,keyasint"`
}

type recordCodec struct {
	em cbor.EncMode
	dm cbor.DecMode
}

func newRecordCodec() (recordCodec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return recordCodec{}, fmt.Errorf("create CBOR encoder: %w", err)
	}
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 4,
	}.DecMode()
	if err != nil {
		return recordCodec{}, fmt.Errorf("create CBOR decoder: %w", err)
	}
	return recordCodec{em: em, dm: dm}, nil
}

func (c recordCodec) encode(rec Record) ([]byte, error) {
	return c.em.Marshal(rec)
}

func (c recordCodec) decode(data []byte) (Record, error) {
	var rec Record
	if err := c.dm.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
