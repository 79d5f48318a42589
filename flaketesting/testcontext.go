package flaketesting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/stretchr/testify/require"
)

type TestContext struct {
	Log     logger.Logger
	T       *testing.T
	DataDir string
	Clock   *Clock
	Storer  *azblob.Storer
}

type TestConfig struct {
	// StartTime is the initial reading of the test clock. The zero value
	// selects a fixed time, so runs are repeatable.
	StartTime       time.Time
	TestLabelPrefix string
	Container       string // can be "" defaults to TestLabelPrefix
}

// DefaultStartTime is 1700000000123 milliseconds after the id epoch.
var DefaultStartTime = time.UnixMilli(snowflakeid.EpochUnixMilli + 1700000000123).UTC()

func NewTestContext(t *testing.T, cfg TestConfig) TestContext {
	c := TestContext{
		T:       t,
		DataDir: t.TempDir(),
	}
	logger.New("TEST")
	c.Log = logger.Sugar.WithServiceName(cfg.TestLabelPrefix)

	start := cfg.StartTime
	if start.IsZero() {
		start = DefaultStartTime
	}
	c.Clock = NewClock(start)
	return c
}

// NewAzuriteTestContext is NewTestContext with a blob store connected to the
// emulator.
func NewAzuriteTestContext(t *testing.T, cfg TestConfig) TestContext {
	c := NewTestContext(t, cfg)

	container := cfg.Container
	if container == "" {
		container = cfg.TestLabelPrefix
	}

	var err error
	c.Storer, err = azblob.NewDev(azblob.NewDevConfigFromEnv(), container)
	if err != nil {
		t.Fatalf("failed to connect to blob store emulator: %v", err)
	}
	client := c.Storer.GetServiceClient()
	// Note: we expect a 'already exists' error here and  ignore it.
	_, _ = client.CreateContainer(context.Background(), container, nil)

	return c
}

func (c *TestContext) GetStorer() *azblob.Storer {
	return c.Storer
}

func (c *TestContext) DeleteBlobsByPrefix(blobPrefixPath string) {
	var err error
	var r *azblob.ListerResponse
	var blobs []string

	var marker azblob.ListMarker
	for {
		r, err = c.Storer.List(
			context.Background(),
			azblob.WithListPrefix(blobPrefixPath), azblob.WithListMarker(marker))

		require.NoError(c.T, err)

		for _, i := range r.Items {
			blobs = append(blobs, *i.Name)
		}
		if len(r.Items) == 0 || r.Marker == nil || *r.Marker == "" {
			break
		}
		marker = r.Marker
	}
	for _, blobPath := range blobs {
		err = c.Storer.Delete(context.Background(), blobPath)
		require.NoError(c.T, err)
	}
}

// Clock is a controllable time source. It only moves when told to.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// EpochMilli returns the clock reading as milliseconds since the id epoch.
func (c *Clock) EpochMilli() int64 {
	return snowflakeid.EpochMilli(c.Now())
}
