package metrics

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
)

// Sink receives named scalar events tagged with a monotonically increasing
// step counter.
type Sink interface {
	Scalar(name string, value float64, step int)
}

// LogSink writes scalars as key=value lines through the standard logger.
type LogSink struct{}

func (LogSink) Scalar(name string, value float64, step int) {
	log.Printf("metric step=%d %s=%.6f", step, name, value)
}

// CSVSink appends one "step,name,value" row per event.
type CSVSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewCSVSink creates (or truncates) the metrics file and writes a header.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("metrics: create %s: %w", path, err)
	}
	if _, err := f.WriteString("step,name,value\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("metrics: write header: %w", err)
	}
	return &CSVSink{f: f}, nil
}

func (s *CSVSink) Scalar(name string, value float64, step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.f, "%d,%s,%s\n", step, name, strconv.FormatFloat(value, 'g', -1, 64))
}

func (s *CSVSink) Close() error {
	return s.f.Close()
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Scalar(string, float64, int) {}
