package wal

import (
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
)

const (
	DefaultMaxSegmentRecords = 1024
)

type Options struct {
	log               logger.Logger
	codec             CheckpointCodec
	maxSegmentRecords int
	now               func() time.Time
}

type Option func(*Options)

func WithLogger(log logger.Logger) Option {
	return func(o *Options) {
		o.log = log
	}
}

// WithCheckpointCodec selects how checkpoints are stored. The default is
// PlainCheckpointCodec.
func WithCheckpointCodec(codec CheckpointCodec) Option {
	return func(o *Options) {
		o.codec = codec
	}
}

// WithMaxSegmentRecords sets the number of records after which the head
// segment is rolled. Values below one are ignored.
func WithMaxSegmentRecords(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.maxSegmentRecords = n
		}
	}
}

// WithClock replaces the clock used to timestamp checkpoints.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.now = now
	}
}
