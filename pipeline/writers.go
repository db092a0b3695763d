package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/mehran282/off-board-v1/models"
)

// CSVWriter exports records to one CSV file per record kind. Files are named
// after the base path with the kind appended, e.g. out_offer.csv, and are
// created on the first record of their kind.
type CSVWriter struct {
	base string
	mu   sync.Mutex
	outs map[models.Kind]*csvOut
}

type csvOut struct {
	file    *os.File
	writer  *csv.Writer
	encoder *csvutil.Encoder
}

// NewCSVWriter prepares a CSV export rooted at base.
func NewCSVWriter(base string) (*CSVWriter, error) {
	if err := ensureDir(base); err != nil {
		return nil, err
	}
	return &CSVWriter{base: base, outs: make(map[models.Kind]*csvOut)}, nil
}

// Path returns the file records of kind are written to.
func (cw *CSVWriter) Path(kind models.Kind) string {
	ext := filepath.Ext(cw.base)
	if ext == "" {
		ext = ".csv"
	}
	return strings.TrimSuffix(cw.base, filepath.Ext(cw.base)) + "_" + string(kind) + ext
}

// Persist appends rec as a row of its kind's file. The header row is written
// with the first record.
func (cw *CSVWriter) Persist(_ context.Context, rec models.Record) (models.Outcome, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	kind := rec.Kind()
	out, ok := cw.outs[kind]
	if !ok {
		f, err := os.Create(cw.Path(kind))
		if err != nil {
			return models.Outcome{}, eris.Wrap(err, "create csv file")
		}
		w := csv.NewWriter(f)
		out = &csvOut{file: f, writer: w, encoder: csvutil.NewEncoder(w)}
		cw.outs[kind] = out
	}

	if err := out.encoder.Encode(rec); err != nil {
		return models.Outcome{}, eris.Wrapf(err, "encode %s csv row", kind)
	}
	out.writer.Flush()
	if err := out.writer.Error(); err != nil {
		return models.Outcome{}, eris.Wrapf(err, "flush %s csv rows", kind)
	}
	return models.Outcome{Kind: kind}, nil
}

// Close flushes and closes every file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	var errs []error
	for kind, out := range cw.outs {
		out.writer.Flush()
		if err := out.writer.Error(); err != nil {
			errs = append(errs, eris.Wrapf(err, "flush %s csv writer", kind))
		}
		if err := out.file.Close(); err != nil {
			errs = append(errs, eris.Wrapf(err, "close %s csv file", kind))
		}
	}
	clear(cw.outs)
	return joinErrs(errs)
}

// JSONWriter exports records as newline-delimited JSON, one object per line
// tagged with the record kind.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

type jsonLine struct {
	Kind   models.Kind   `json:"kind"`
	Record models.Record `json:"record"`
}

// NewJSONWriter creates filename and returns a writer for it.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrap(err, "create json file")
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Persist appends rec as one JSON line.
func (jw *JSONWriter) Persist(_ context.Context, rec models.Record) (models.Outcome, error) {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.encoder.Encode(jsonLine{Kind: rec.Kind(), Record: rec}); err != nil {
		return models.Outcome{}, eris.Wrap(err, "encode json record")
	}
	if err := jw.writer.Flush(); err != nil {
		return models.Outcome{}, eris.Wrap(err, "flush json writer")
	}
	return models.Outcome{Kind: rec.Kind()}, nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return eris.Wrap(err, "flush json writer")
	}
	return jw.file.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create directory %q", dir)
	}
	return nil
}
