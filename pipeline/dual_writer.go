package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/mehran282/off-board-v1/models"
)

// DualWriter exports every record to both a JSON and a CSV writer.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
}

// NewDualWriter creates a JSONL export at jsonFilename and a CSV export
// rooted at csvBase.
func NewDualWriter(csvBase, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvBase)
	if err != nil {
		return nil, eris.Wrap(err, "create csv writer")
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "create json writer")
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Persist writes rec to both exports.
func (dw *DualWriter) Persist(ctx context.Context, rec models.Record) (models.Outcome, error) {
	if _, err := dw.csvWriter.Persist(ctx, rec); err != nil {
		return models.Outcome{}, eris.Wrap(err, "csv export")
	}
	return dw.jsonWriter.Persist(ctx, rec)
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	var errs []error
	if err := dw.csvWriter.Close(); err != nil {
		errs = append(errs, eris.Wrap(err, "csv close"))
	}
	if err := dw.jsonWriter.Close(); err != nil {
		errs = append(errs, eris.Wrap(err, "json close"))
	}
	return joinErrs(errs)
}

// NewExportSink builds the dry-run sink for format "json", "csv" or "both".
// For "both" the CSV files share the JSON file's base name.
func NewExportSink(format, output string) (Sink, error) {
	switch strings.ToLower(format) {
	case "json", "jsonl":
		w, err := NewJSONWriter(output)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "csv":
		w, err := NewCSVWriter(output)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "both":
		w, err := NewDualWriter(strings.TrimSuffix(output, filepath.Ext(output))+".csv", output)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	return nil, eris.Errorf("unknown export format %q", format)
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
