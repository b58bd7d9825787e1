// Package trace writes append-only CSV traces of movement parameters
// and switching rates. One file pair per run, keyed by the run-start
// timestamp, each pre-initialized with a header row naming every
// column. Writes are buffered so the sampling loop never blocks on
// disk, and rows are flushed in iteration order.
package trace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// precision is the fixed number of decimal places in emitted values.
const precision = 6

// Run owns the two trace destinations of one chain run.
type Run struct {
	paramsFile *os.File
	ratesFile  *os.File
	params     *bufio.Writer
	rates      *bufio.Writer

	// ParamsPath and RatesPath record where the traces were created.
	ParamsPath string
	RatesPath  string
}

// NewRun creates the trace files under dir, named by the run-start
// timestamp, and writes one header row to each.
func NewRun(dir string, start time.Time, paramCols, rateCols []string) (*Run, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("trace dir: %w", err)
	}
	stamp := start.Format("20060102T150405")
	r := &Run{
		ParamsPath: filepath.Join(dir, fmt.Sprintf("params_%s.csv", stamp)),
		RatesPath:  filepath.Join(dir, fmt.Sprintf("rates_%s.csv", stamp)),
	}

	var err error
	if r.paramsFile, err = os.OpenFile(r.ParamsPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644); err != nil {
		return nil, fmt.Errorf("create params trace: %w", err)
	}
	if r.ratesFile, err = os.OpenFile(r.RatesPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644); err != nil {
		r.paramsFile.Close()
		return nil, fmt.Errorf("create rates trace: %w", err)
	}
	r.params = bufio.NewWriter(r.paramsFile)
	r.rates = bufio.NewWriter(r.ratesFile)

	if err := writeHeader(r.params, paramCols); err != nil {
		r.Close()
		return nil, err
	}
	if err := writeHeader(r.rates, rateCols); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func writeHeader(w *bufio.Writer, cols []string) error {
	if _, err := w.WriteString("iteration"); err != nil {
		return err
	}
	for _, c := range cols {
		if _, err := w.WriteString("," + c); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

func writeRow(w *bufio.Writer, iteration int, row []float64) error {
	if _, err := w.WriteString(strconv.Itoa(iteration)); err != nil {
		return err
	}
	for _, v := range row {
		if err := w.WriteByte(','); err != nil {
			return err
		}
		if _, err := w.WriteString(strconv.FormatFloat(v, 'f', precision, 64)); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

// WriteParams appends one movement-parameter row.
func (r *Run) WriteParams(iteration int, row []float64) error {
	return writeRow(r.params, iteration, row)
}

// WriteRates appends one switching-rate row.
func (r *Run) WriteRates(iteration int, row []float64) error {
	return writeRow(r.rates, iteration, row)
}

// Close flushes both buffers and closes the files.
func (r *Run) Close() error {
	var first error
	for _, w := range []*bufio.Writer{r.params, r.rates} {
		if w != nil {
			if err := w.Flush(); err != nil && first == nil {
				first = err
			}
		}
	}
	for _, f := range []*os.File{r.paramsFile, r.ratesFile} {
		if f != nil {
			if err := f.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
