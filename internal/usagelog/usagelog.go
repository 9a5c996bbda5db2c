package usagelog

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const TimestampLayout = "2006-01-02 15:04:05"

// Record is one answered request.
type Record struct {
	UserID      string
	UserName    string
	ChannelName string
	Timestamp   time.Time
	Category    string
}

type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder writes records without ever failing the caller.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil || r.sink == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := r.sink.Write(ctx, rec); err != nil {
		r.logger.Warn("usage_record_error",
			"user_id", rec.UserID,
			"channel_name", rec.ChannelName,
			"error", err.Error(),
		)
	}
}
