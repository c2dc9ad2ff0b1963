package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aluiziolira/go-catalog-sweep/models"
)

// QuoteField wraps s in double quotes and doubles any quote inside it. Every
// field is quoted, so content never needs inspecting.
func QuoteField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// FormatRecord renders one CSV line, newline included.
func FormatRecord(fields []string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(QuoteField(f))
	}
	b.WriteByte('\n')
	return b.String()
}

// CSVWriter writes fully quoted output rows to a file.
type CSVWriter struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
	closed bool
}

// NewCSVWriter creates filename, writes the header row and flushes it so the
// file is valid CSV from the moment it exists.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := bufio.NewWriter(f)
	if _, err := writer.WriteString(FormatRecord(models.OutputColumns)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := writer.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends rows and flushes them to the file.
func (cw *CSVWriter) Write(rows []*models.OutputRow) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.closed {
		return ErrWriterClosed
	}
	for _, row := range rows {
		if _, err := cw.writer.WriteString(FormatRecord(row.Record())); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	if err := cw.writer.Flush(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle. Closing twice is a no-op.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.closed {
		return nil
	}
	cw.closed = true
	if err := cw.writer.Flush(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file holds at least its header.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.file.Name())
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}
