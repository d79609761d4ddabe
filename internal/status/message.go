package status

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/unklstewy/vega-mount/pkg/clock"
)

// MessageType tags what a message carries.
type MessageType string

const (
	TypePosition        MessageType = "POSITION"
	TypeGeneric         MessageType = "GENERIC"
	TypeAcknowledgement MessageType = "ACKNOWLEDGEMENT"
	TypeTimestamp       MessageType = "TIMESTAMP"
)

// Message is one line on the command link.
type Message struct {
	Type      MessageType `json:"type"`
	Status    Severity    `json:"status"`
	Payload   any         `json:"payload"`
	Timestamp float64     `json:"timestamp"`
}

// Position is the payload of a successful POSITION message.
type Position struct {
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
}

// Publisher writes messages as newline-delimited JSON. It is safe for
// concurrent use; each message is written with a single Write call.
type Publisher struct {
	mu    sync.Mutex
	w     io.Writer
	clock clock.Source
}

// NewPublisher creates a Publisher stamping messages with clk.
func NewPublisher(w io.Writer, clk clock.Source) *Publisher {
	return &Publisher{w: w, clock: clk}
}

// Send writes a message of the given type.
func (p *Publisher) Send(typ MessageType, s Status) error {
	return p.write(Message{Type: typ, Status: s.Severity, Payload: s.Message})
}

// Info sends a successful GENERIC message.
func (p *Publisher) Info(msg string) error {
	return p.Send(TypeGeneric, OK(msg))
}

// Filtered sends a GENERIC message only when s is a warning or an error.
func (p *Publisher) Filtered(s Status) error {
	if s.Severity == None {
		return nil
	}
	return p.Send(TypeGeneric, s)
}

// Ack acknowledges a command with the given outcome.
func (p *Publisher) Ack(s Status) error {
	return p.Send(TypeAcknowledgement, s)
}

// Position reports the mount position. When s is an error the payload is
// the error message instead of coordinates.
func (p *Publisher) Position(az, el float64, s Status) error {
	if s.Severity == Error {
		return p.write(Message{Type: TypePosition, Status: Error, Payload: s.Message})
	}
	return p.write(Message{
		Type:    TypePosition,
		Status:  s.Severity,
		Payload: Position{Azimuth: az, Elevation: el},
	})
}

// Timestamp reports the controller clock.
func (p *Publisher) Timestamp() error {
	now := p.now()
	return p.write(Message{
		Type:    TypeTimestamp,
		Status:  None,
		Payload: fmt.Sprintf("%.3f", clock.UnixSeconds(now)),
	})
}

func (p *Publisher) now() time.Time {
	if p.clock == nil {
		return time.Now()
	}
	return p.clock.Now()
}

func (p *Publisher) write(m Message) error {
	m.Timestamp = clock.UnixSeconds(p.now())

	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(line); err != nil {
		return fmt.Errorf("write %s message: %w", m.Type, err)
	}
	return nil
}
