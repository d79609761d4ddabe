// Package status defines the severity taxonomy shared by every reply the
// controller sends, and the line-delimited JSON messages that carry them.
package status

import (
	"encoding/json"
	"fmt"
)

// Severity grades the outcome of an operation. Higher values are more severe.
type Severity int

const (
	None Severity = iota
	Warning
	Error
)

// String returns the wire spelling of the severity.
func (s Severity) String() string {
	switch s {
	case None:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the severity using its wire spelling.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the wire spelling of a severity.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	v, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity maps a wire spelling back to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "success":
		return None, nil
	case "warning":
		return Warning, nil
	case "error":
		return Error, nil
	default:
		return None, fmt.Errorf("unknown severity %q", s)
	}
}

// Status is an outcome with a human-readable message.
type Status struct {
	Severity Severity
	Message  string
}

// OK returns a successful status carrying msg.
func OK(msg string) Status { return Status{Severity: None, Message: msg} }

// Warn returns a warning status carrying msg.
func Warn(msg string) Status { return Status{Severity: Warning, Message: msg} }

// Fail returns an error status carrying msg.
func Fail(msg string) Status { return Status{Severity: Error, Message: msg} }

// Merge combines two statuses: the more severe one wins outright, and
// statuses of equal severity keep both messages joined by "; ".
func Merge(a, b Status) Status {
	if a.Severity > b.Severity {
		return a
	}
	if b.Severity > a.Severity {
		return b
	}

	msg := a.Message
	if b.Message != "" {
		if msg != "" {
			msg += "; "
		}
		msg += b.Message
	}
	return Status{Severity: a.Severity, Message: msg}
}

// MergeAll folds Merge over statuses, left to right.
func MergeAll(statuses ...Status) Status {
	var out Status
	for i, s := range statuses {
		if i == 0 {
			out = s
			continue
		}
		out = Merge(out, s)
	}
	return out
}
