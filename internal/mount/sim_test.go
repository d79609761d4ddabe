package mount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/vega-mount/internal/logging"
	"github.com/unklstewy/vega-mount/pkg/config"
	"github.com/unklstewy/vega-mount/pkg/motion"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSim(initial motion.Position) (*Sim, *manualClock) {
	clk := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewSim(SimConfig{
		Rate:    10,
		Home:    motion.Position{Azimuth: 0, Elevation: 89},
		Park:    motion.Position{Azimuth: 180, Elevation: 10},
		Initial: initial,
	}, clk), clk
}

func TestSimSlewInterpolates(t *testing.T) {
	ctx := context.Background()
	sim, clk := newSim(motion.Position{Azimuth: 0, Elevation: 10})

	require.NoError(t, sim.SlewTo(ctx, 90, 30))

	clk.Advance(4500 * time.Millisecond)
	az, el, err := sim.Position(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 45, az, 1e-9)
	assert.InDelta(t, 20, el, 1e-9)

	slewing, _ := sim.IsSlewing(ctx)
	assert.True(t, slewing)

	clk.Advance(5 * time.Second)
	slewing, _ = sim.IsSlewing(ctx)
	assert.False(t, slewing)

	az, el, _ = sim.Position(ctx)
	assert.InDelta(t, 90, az, 1e-9)
	assert.InDelta(t, 30, el, 1e-9)
}

func TestSimShortestPathAccumulatesWrap(t *testing.T) {
	ctx := context.Background()
	sim, clk := newSim(motion.Position{Azimuth: 350, Elevation: 45})

	require.NoError(t, sim.SlewTo(ctx, 10, 45))
	clk.Advance(time.Minute)

	az, _, _ := sim.Position(ctx)
	assert.InDelta(t, 10, az, 1e-9)

	cum, err := sim.CumulativeAzimuth(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 370, cum, 1e-9, "crossing north clockwise adds a turn")
}

func TestSimAbortFreezes(t *testing.T) {
	ctx := context.Background()
	sim, clk := newSim(motion.Position{Azimuth: 0, Elevation: 10})

	require.NoError(t, sim.SlewTo(ctx, 100, 10))
	clk.Advance(2 * time.Second)
	require.NoError(t, sim.Abort(ctx))
	clk.Advance(time.Minute)

	az, _, _ := sim.Position(ctx)
	assert.InDelta(t, 20, az, 1e-9)
	slewing, _ := sim.IsSlewing(ctx)
	assert.False(t, slewing)

	slews, aborts := sim.Counters()
	assert.Equal(t, 1, slews)
	assert.Equal(t, 1, aborts)
}

func TestSimHomeAndPark(t *testing.T) {
	ctx := context.Background()
	sim, clk := newSim(motion.Position{Azimuth: 90, Elevation: 45})

	require.NoError(t, sim.Park(ctx))
	clk.Advance(time.Minute)
	az, el, _ := sim.Position(ctx)
	assert.InDelta(t, 180, az, 1e-9)
	assert.InDelta(t, 10, el, 1e-9)

	require.NoError(t, sim.FindHome(ctx))
	clk.Advance(time.Minute)
	az, el, _ = sim.Position(ctx)
	assert.InDelta(t, 0, az, 1e-9)
	assert.InDelta(t, 89, el, 1e-9)
}

func TestSimCancelledContext(t *testing.T) {
	sim, _ := newSim(motion.Position{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sim.SlewTo(ctx, 10, 10), context.Canceled)
}

func TestOpenSim(t *testing.T) {
	cfg := config.DefaultConfig().Mount
	m, err := Open(context.Background(), cfg, nil, logging.Noop())
	require.NoError(t, err)

	az, el, err := m.Position(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.HomeAzimuth, az)
	assert.Equal(t, cfg.HomeElevation, el)

	_, ok := m.(motion.WrapReader)
	assert.True(t, ok, "simulator supports untangling")
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.DefaultConfig().Mount
	cfg.Driver = "stepper"
	_, err := Open(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
}
