package usagelog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var csvHeader = []string{"user_id", "user_name", "channel_name", "timestamp", "prompt_type"}

// CSVSink appends records to a file, writing the header only while the
// file is empty.
type CSVSink struct {
	mu   sync.Mutex
	path string
}

func NewCSVSink(path string) (*CSVSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("usage csv path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create usage dir: %w", err)
		}
	}
	return &CSVSink{path: path}, nil
}

func (s *CSVSink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open usage csv: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat usage csv: %w", err)
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("write usage header: %w", err)
		}
	}
	if err := w.Write([]string{
		rec.UserID,
		rec.UserName,
		rec.ChannelName,
		rec.Timestamp.Format(TimestampLayout),
		rec.Category,
	}); err != nil {
		return fmt.Errorf("write usage row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (s *CSVSink) Close() error { return nil }
