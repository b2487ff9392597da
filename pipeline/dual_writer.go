// Package pipeline aggregates extraction outcomes and exports the dataset.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-gallery/models"
)

type namedWriter struct {
	name string
	OutputWriter
}

// DualWriter fans every batch out to a CSV and a JSONL writer.
type DualWriter struct {
	writers []namedWriter
	mu      sync.Mutex
}

// NewDualWriter creates the CSV and JSONL outputs.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create CSV writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create JSON writer: %w", err)
	}

	return &DualWriter{
		writers: []namedWriter{
			{name: "CSV", OutputWriter: csvWriter},
			{name: "JSON", OutputWriter: jsonWriter},
		},
	}, nil
}

// Write sends rows to every output, stopping at the first failure.
func (dw *DualWriter) Write(rows []models.Row) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	for _, w := range dw.writers {
		if err := w.Write(rows); err != nil {
			return fmt.Errorf("%s write: %w", w.name, err)
		}
	}
	return nil
}

// Close closes every output and joins their errors.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	for _, w := range dw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", w.name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks every output.
func (dw *DualWriter) Validate() error {
	var errs []error
	for _, w := range dw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s validation: %w", w.name, err))
		}
	}
	return errors.Join(errs...)
}
