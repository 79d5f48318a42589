package sequence

import (
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-snowflake/wal"
	"github.com/prometheus/client_golang/prometheus"
)

type Options struct {
	log               logger.Logger
	now               func() time.Time
	guard             AccessGuard
	segments          wal.SegmentStore
	checkpointCodec   wal.CheckpointCodec
	registerer        prometheus.Registerer
	maxSegmentRecords int
}

type Option func(*Options)

func WithLogger(log logger.Logger) Option {
	return func(o *Options) {
		o.log = log
	}
}

// WithClock replaces the wall clock read by nextval. The clock is only read
// while the page lock is held.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.now = now
	}
}

// WithGuard sets the access guard. The default is AllowAll.
func WithGuard(guard AccessGuard) Option {
	return func(o *Options) {
		o.guard = guard
	}
}

// WithSegmentStore keeps the durability log in store rather than in the
// data directory.
func WithSegmentStore(store wal.SegmentStore) Option {
	return func(o *Options) {
		o.segments = store
	}
}

func WithCheckpointCodec(codec wal.CheckpointCodec) Option {
	return func(o *Options) {
		o.checkpointCodec = codec
	}
}

// WithRegisterer registers the engine metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.registerer = reg
	}
}

// WithMaxSegmentRecords overrides Config.MaxSegmentRecords.
func WithMaxSegmentRecords(n int) Option {
	return func(o *Options) {
		o.maxSegmentRecords = n
	}
}
