package alert

import (
	"context"
	"errors"

	"github.com/himanishpuri/StationDNA/pkg/models"
)

// Sink publishes alerts. Callers treat delivery as best effort.
type Sink interface {
	Publish(ctx context.Context, a models.Alert) error
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, a models.Alert) error

func (f Func) Publish(ctx context.Context, a models.Alert) error {
	return f(ctx, a)
}

type Logger interface {
	Warnf(format string, args ...any)
}

// LogSink writes alerts to the log.
type LogSink struct {
	Log Logger
}

func (s LogSink) Publish(_ context.Context, a models.Alert) error {
	s.Log.Warnf("ALERT %s station=%s session=%s value=%.2f: %s", a.Type, a.StationID, a.SessionID, a.Value, a.Message)
	return nil
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, a models.Alert) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
