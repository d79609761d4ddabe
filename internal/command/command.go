// Package command implements the operator line protocol. Each line is one
// command; every command is answered with exactly one ACKNOWLEDGEMENT,
// possibly preceded or followed by a POSITION or TIMESTAMP message.
package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/unklstewy/vega-mount/internal/logging"
	"github.com/unklstewy/vega-mount/internal/status"
	"github.com/unklstewy/vega-mount/pkg/clock"
	"github.com/unklstewy/vega-mount/pkg/coordinates"
	"github.com/unklstewy/vega-mount/pkg/motion"
	"github.com/unklstewy/vega-mount/pkg/tracking"
)

const (
	// positionTimeout bounds a single mount position read.
	positionTimeout = 2 * time.Second

	// historyTimeout bounds a journal query.
	historyTimeout = 5 * time.Second

	defaultHistory = 10
	maxHistory     = 100
)

// Motion is the part of the orchestrator the command surface drives.
type Motion interface {
	PointTo(az, el float64) (*motion.Task, error)
	Home() (*motion.Task, error)
	Standby() (*motion.Task, error)
	Untangle() (*motion.Task, error)
	StopMotionTask() error
	Active() *motion.Task
	Abort(ctx context.Context) error
}

// History lists journaled motion events, newest first.
type History interface {
	RecentEvents(ctx context.Context, limit int) ([]motion.Event, error)
}

// Tracker is the part of the tracker the command surface drives.
type Tracker interface {
	SetEquatorial(raHours, decDeg float64) error
	SetGalactic(l, b float64) error
	SetTLE(text string) error
	Start(mode tracking.Mode) error
	Stop()
	Snapshot() tracking.Snapshot
}

// Clock is the session clock; sync_time adjusts it.
type Clock interface {
	clock.Source
	Sync(unixSeconds float64) (time.Duration, error)
}

// Metrics counts handled commands by name and outcome.
type Metrics interface {
	CommandHandled(name string, outcome status.Severity)
}

// Dispatcher parses command lines and calls into the core.
type Dispatcher struct {
	motion   Motion
	tracker  Tracker
	engine   *coordinates.Engine
	clock    Clock
	position motion.PositionReader
	pub      *status.Publisher
	log      logging.Logger
	metrics  Metrics
	history  History
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) { d.log = logging.OrNoop(l) }
}

// WithMetrics sets the command counter.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithHistory enables the history command.
func WithHistory(h History) Option {
	return func(d *Dispatcher) { d.history = h }
}

// NewDispatcher wires a Dispatcher. Replies go to pub.
func NewDispatcher(m Motion, t Tracker, engine *coordinates.Engine, clk Clock, position motion.PositionReader, pub *status.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		motion:   m,
		tracker:  t,
		engine:   engine,
		clock:    clk,
		position: position,
		pub:      pub,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logging.Component("command"))
	return d
}

// Handle executes one command line. Blank lines are ignored.
func (d *Dispatcher) Handle(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	d.log.Debug(ctx, "command received", logging.String("line", line))

	var result status.Status
	switch name {
	case "point_to":
		result = d.pointTo(rest)
	case "track":
		result = d.track(rest)
	case "home":
		result = d.motionCommand(name, "Asking for homing...", d.motion.Home)
	case "standby":
		result = d.motionCommand(name, "Asking for standby...", d.motion.Standby)
	case "untangle":
		result = d.motionCommand(name, "Asking for untangling...", d.motion.Untangle)
	case "stop", "cancel":
		result = d.stop()
	case "abort":
		result = d.abort(ctx)
	case "get_pos":
		result = d.getPosition(ctx)
	case "get_time":
		result = status.OK(name)
		d.reply(name, result)
		d.send(d.pub.Timestamp())
		return
	case "sync_time":
		result = d.syncTime(rest)
	case "ra2azalt":
		result = d.raToAzAlt(rest)
	case "status":
		result = d.report(ctx)
	case "history":
		result = d.listHistory(ctx, rest)
	case "ping":
		result = status.OK("pong")
	default:
		result = status.Fail(fmt.Sprintf("Unknown command: %s", name))
	}
	d.reply(name, result)
}

func (d *Dispatcher) reply(name string, result status.Status) {
	if d.metrics != nil {
		d.metrics.CommandHandled(name, result.Severity)
	}
	if result.Severity == status.Error {
		d.log.Warn(context.Background(), "command rejected",
			logging.String("command", name), logging.String("reason", result.Message))
	}
	d.send(d.pub.Ack(result))
}

func (d *Dispatcher) send(err error) {
	if err != nil {
		d.log.Error(context.Background(), "cannot write reply", logging.Err(err))
	}
}

func (d *Dispatcher) pointTo(args string) status.Status {
	vals, err := parseFloats(args, 2)
	if err != nil {
		return status.Fail(fmt.Sprintf("point_to requires 2 numeric parameters (az, el): %v", err))
	}
	az, el := vals[0], vals[1]

	if _, err := d.motion.PointTo(az, el); err != nil {
		return motionError("point_to", err)
	}
	return status.OK(fmt.Sprintf("Asking pointing task towards az = %g, el = %g", az, el))
}

func (d *Dispatcher) motionCommand(name, accepted string, start func() (*motion.Task, error)) status.Status {
	if _, err := start(); err != nil {
		return motionError(name, err)
	}
	return status.OK(accepted)
}

// motionError maps orchestrator errors to acknowledgements. Throttled
// commands are informational, not failures.
func motionError(name string, err error) status.Status {
	switch {
	case errors.Is(err, motion.ErrThrottled):
		return status.OK(fmt.Sprintf("%s ignored: anti-spam active", name))
	case errors.Is(err, motion.ErrForcedTermination):
		return status.Fail(err.Error())
	default:
		return status.Fail(fmt.Sprintf("%s rejected: %v", name, err))
	}
}

func (d *Dispatcher) track(args string) status.Status {
	kind, params, _ := strings.Cut(args, " ")
	params = strings.TrimSpace(params)
	if kind == "" {
		return status.Fail("track requires a type (radec, gal, tle) and its parameters")
	}
	mode, err := tracking.ParseMode(kind)
	if err != nil {
		return status.Fail(fmt.Sprintf("invalid track type %q: valid types are radec, gal and tle", kind))
	}

	var desc string
	switch mode {
	case tracking.Idle:
		d.tracker.Stop()
		return status.OK("Tracking stopped")

	case tracking.Equatorial:
		vals, err := parseFloats(params, 2)
		if err != nil {
			return status.Fail(fmt.Sprintf("track radec needs two numbers, ra (hours) and dec: %v", err))
		}
		if err := d.tracker.SetEquatorial(vals[0], vals[1]); err != nil {
			return status.Fail(err.Error())
		}
		desc = fmt.Sprintf("RADEC ra = %g, dec = %g", vals[0], vals[1])

	case tracking.Galactic:
		vals, err := parseFloats(params, 2)
		if err != nil {
			return status.Fail(fmt.Sprintf("track gal needs two numbers, l and b: %v", err))
		}
		if err := d.tracker.SetGalactic(vals[0], vals[1]); err != nil {
			return status.Fail(err.Error())
		}
		desc = fmt.Sprintf("GAL l = %g, b = %g", vals[0], vals[1])

	case tracking.Satellite:
		if err := d.tracker.SetTLE(params); err != nil {
			return status.Fail(err.Error())
		}
		desc = "TLE"
	}

	if err := d.tracker.Start(mode); err != nil {
		return status.Fail(fmt.Sprintf("track %s rejected: %v", kind, err))
	}
	return status.OK("Asked tracking " + desc)
}

func (d *Dispatcher) stop() status.Status {
	d.tracker.Stop()
	if err := d.motion.StopMotionTask(); err != nil {
		return status.Fail(fmt.Sprintf("STOPPING: %v", err))
	}
	return status.OK("STOPPING")
}

// abort halts the mount before retiring the task, for when waiting on a
// cooperative stop is too slow.
func (d *Dispatcher) abort(ctx context.Context) status.Status {
	d.tracker.Stop()
	actx, cancel := context.WithTimeout(ctx, positionTimeout)
	defer cancel()
	halt := status.OK("ABORTED")
	if err := d.motion.Abort(actx); err != nil {
		halt = status.Fail(fmt.Sprintf("mount abort failed: %v", err))
	}
	if err := d.motion.StopMotionTask(); err != nil {
		halt = status.Merge(halt, status.Fail(err.Error()))
	}
	return halt
}

func (d *Dispatcher) getPosition(ctx context.Context) status.Status {
	az, el, st := d.readPosition(ctx)
	d.send(d.pub.Position(az, el, st))
	return status.Status{Severity: st.Severity, Message: "get_pos"}
}

// readPosition reads the mount with a bounded wait. Each axis is checked
// on its own; a suspicious axis is reported as a GENERIC message and the
// merged result becomes the POSITION status.
func (d *Dispatcher) readPosition(ctx context.Context) (az, el float64, st status.Status) {
	ctx, cancel := context.WithTimeout(ctx, positionTimeout)
	defer cancel()

	az, el, err := d.position.Position(ctx)
	if err != nil {
		return 0, 0, status.Fail(fmt.Sprintf("cannot read mount position: %v", err))
	}

	azStatus := checkAxis("azimuth", az, 0, 360, false)
	d.send(d.pub.Filtered(azStatus))
	elStatus := checkAxis("elevation", el, -90, 90, true)
	d.send(d.pub.Filtered(elStatus))
	return az, el, status.Merge(azStatus, elStatus)
}

// checkAxis flags readings outside [lo, hi) (or [lo, hi] when inclusive).
func checkAxis(axis string, v, lo, hi float64, inclusive bool) status.Status {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return status.Fail(fmt.Sprintf("%s reading is not a number", axis))
	case v < lo || v > hi || (!inclusive && v == hi):
		return status.Warn(fmt.Sprintf("%s reading %g outside [%g, %g]", axis, v, lo, hi))
	}
	return status.OK(axis + " read successfully")
}

func (d *Dispatcher) syncTime(args string) status.Status {
	vals, err := parseFloats(args, 1)
	if err != nil {
		return status.Fail(fmt.Sprintf("sync_time needs a unix timestamp: %v", err))
	}
	offset, err := d.clock.Sync(vals[0])
	if err != nil {
		return status.Fail(fmt.Sprintf("sync_time expects unix seconds: %v", err))
	}
	d.log.Info(context.Background(), "clock synchronized", logging.Duration("offset", offset))
	return status.OK("Clock synchronized")
}

func (d *Dispatcher) raToAzAlt(args string) status.Status {
	vals, err := parseFloats(args, 2)
	if err != nil {
		return status.Fail(fmt.Sprintf("ra2azalt requires 2 numeric parameters (ra hours, dec): %v", err))
	}
	h := d.engine.EquatorialToHorizontal(vals[0], vals[1], d.clock.Now())
	return status.OK(fmt.Sprintf("Az: %.2f, el: %.2f", h.Azimuth, h.Altitude))
}

// report summarises the tracker, the motion slot and where the mount points
// on the sky. Held targets, solar proximity and an unreadable mount raise the
// severity to a warning.
func (d *Dispatcher) report(ctx context.Context) status.Status {
	snap := d.tracker.Snapshot()

	task := "none"
	if active := d.motion.Active(); active != nil {
		task = active.Name()
	}
	summary := fmt.Sprintf("mode=%s target=(%.2f, %.2f) task=%s",
		snap.Mode, snap.Target.Azimuth, snap.Target.Elevation, task)

	var warnings []status.Status
	rctx, cancel := context.WithTimeout(ctx, positionTimeout)
	az, el, err := d.position.Position(rctx)
	cancel()
	if err != nil {
		warnings = append(warnings, status.Warn(fmt.Sprintf("mount position unavailable: %v", err)))
	} else {
		eq := d.engine.HorizontalToEquatorial(
			coordinates.HorizontalCoordinates{Azimuth: az, Altitude: el}, d.clock.Now())
		gal := coordinates.EquatorialToGalactic(eq)
		summary += fmt.Sprintf(" mount=(%.2f, %.2f) ra=%.4fh dec=%.3f l=%.3f b=%.3f",
			az, el, eq.RightAscension, eq.Declination, gal.Longitude, gal.Latitude)
	}
	if !snap.TargetValid {
		warnings = append(warnings, status.Warn("target outside limits, holding previous"))
	}
	if snap.Mode != tracking.Idle && snap.Proximity >= coordinates.SolarWarning {
		warnings = append(warnings, status.Warn("target near the sun: "+snap.Proximity.String()))
	}
	if w := status.MergeAll(warnings...); w.Severity != status.None {
		return status.Warn(summary + "; " + w.Message)
	}
	return status.OK(summary)
}

// listHistory reports the latest journaled motion events, newest first.
func (d *Dispatcher) listHistory(ctx context.Context, args string) status.Status {
	if d.history == nil {
		return status.Fail("history unavailable: motion journal disabled")
	}
	limit := defaultHistory
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return status.Fail(fmt.Sprintf("history takes a positive count, got %q", args))
		}
		limit = min(n, maxHistory)
	}

	hctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	events, err := d.history.RecentEvents(hctx, limit)
	if err != nil {
		return status.Fail(fmt.Sprintf("history: %v", err))
	}
	if len(events) == 0 {
		return status.OK("no motion events")
	}

	lines := make([]string, 0, len(events))
	for _, ev := range events {
		line := fmt.Sprintf("%s %s %s", ev.At.UTC().Format(time.RFC3339), ev.Name, ev.Phase)
		if ev.Outcome != "" {
			line += fmt.Sprintf(" %s after %s", ev.Outcome, ev.Elapsed.Round(time.Millisecond))
		}
		lines = append(lines, line)
	}
	return status.OK(strings.Join(lines, "; "))
}

// parseFloats splits args on whitespace and parses exactly n finite numbers.
func parseFloats(args string, n int) ([]float64, error) {
	fields := strings.Fields(args)
	if len(fields) != n {
		return nil, fmt.Errorf("got %d parameters, want %d", len(fields), n)
	}
	vals := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%q is not a number", f)
		}
		vals[i] = v
	}
	return vals, nil
}
