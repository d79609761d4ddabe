package command

import (
	"context"
	"time"
)

// Broadcast pushes a POSITION message every interval until ctx is done.
// Read failures are reported in the message itself with error status.
func (d *Dispatcher) Broadcast(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.BroadcastOnce(ctx)
		}
	}
}

// BroadcastOnce reads the mount and pushes one POSITION message.
func (d *Dispatcher) BroadcastOnce(ctx context.Context) {
	az, el, st := d.readPosition(ctx)
	d.send(d.pub.Position(az, el, st))
}
