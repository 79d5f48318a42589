package wal

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var ErrCheckpointVerify = errors.New("the checkpoint failed verification")

// Checkpoint is the persisted recovery starting point. Every page change made
// by a record with an lsn below Redo was flushed to the page file before the
// checkpoint was written.
type Checkpoint struct {
	Redo LSN `cbor:"1,keyasint"`
	// Timestamp is the unix time (milliseconds) read when the checkpoint was
	// taken.
	Timestamp int64 `cbor:"2,keyasint"`
	// Segment is the index of the head segment when the checkpoint was taken.
	Segment uint32 `cbor:"3,keyasint"`
}

// CheckpointCodec converts checkpoints to and from their stored form.
type CheckpointCodec interface {
	EncodeCheckpoint(cp Checkpoint) ([]byte, error)
	DecodeCheckpoint(data []byte) (Checkpoint, error)
}

// PlainCheckpointCodec stores the checkpoint as deterministic CBOR.
type PlainCheckpointCodec struct {
	em cbor.EncMode
	dm cbor.DecMode
}

func NewPlainCheckpointCodec() (*PlainCheckpointCodec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR encoder: %w", err)
	}
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR decoder: %w", err)
	}
	return &PlainCheckpointCodec{em: em, dm: dm}, nil
}

func (c *PlainCheckpointCodec) EncodeCheckpoint(cp Checkpoint) ([]byte, error) {
	return c.em.Marshal(cp)
}

func (c *PlainCheckpointCodec) DecodeCheckpoint(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := c.dm.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %v: %w", err, ErrCheckpointVerify)
	}
	return cp, nil
}
