// Package telemetry ingests flight log rows and fans them out to the
// configured sinks.
package telemetry

import (
	"encoding/json"
	"os"

	"droneops-control/internal/fleet"
)

// FlightLogWriter is an interface to support different telemetry sinks.
type FlightLogWriter interface {
	Write(fleet.FlightLogEntry) error
}

type batchWriter interface {
	WriteBatch([]fleet.FlightLogEntry) error
}

// MultiWriter fans a flight log row out to multiple writers.
type MultiWriter struct {
	writers []FlightLogWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...FlightLogWriter) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// Write sends a row to all writers. The first failure stops the fan-out.
func (mw *MultiWriter) Write(row fleet.FlightLogEntry) error {
	for _, w := range mw.writers {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch sends multiple rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []fleet.FlightLogEntry) error {
	for _, w := range mw.writers {
		if bw, ok := w.(batchWriter); ok {
			if err := bw.WriteBatch(rows); err != nil {
				return err
			}
			continue
		}
		for _, r := range rows {
			if err := w.Write(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// StdoutWriter prints rows as JSON lines to standard output.
type StdoutWriter struct {
	enc *json.Encoder
}

// NewStdoutWriter creates a new StdoutWriter.
func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{enc: json.NewEncoder(os.Stdout)}
}

func (w *StdoutWriter) Write(row fleet.FlightLogEntry) error {
	return w.enc.Encode(row)
}

// FileWriter appends rows to a JSONL file.
type FileWriter struct {
	file *os.File
	enc  *json.Encoder
}

// NewFileWriter creates a FileWriter appending to path.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWriter{file: f, enc: json.NewEncoder(f)}, nil
}

func (w *FileWriter) Write(row fleet.FlightLogEntry) error {
	return w.enc.Encode(row)
}

// Close flushes and closes the underlying file.
func (w *FileWriter) Close() error {
	return w.file.Close()
}
