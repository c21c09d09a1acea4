package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// JSONLWriter appends epoch reports as JSON lines, either to a file or to a
// caller supplied writer.
type JSONLWriter struct {
	path string
	out  io.Writer
	mu   sync.Mutex
}

func NewJSONLFile(path string) *JSONLWriter {
	return &JSONLWriter{path: path}
}

func NewJSONLWriter(out io.Writer) *JSONLWriter {
	return &JSONLWriter{out: out}
}

// PutEpochReports appends a batch of reports.
func (w *JSONLWriter) PutEpochReports(reports []EpochReport) error {
	if len(reports) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.out
	if out == nil {
		dir := filepath.Dir(w.path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create report dir: %w", err)
			}
		}
		file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open report file: %w", err)
		}
		defer file.Close()
		out = file
	}

	writer := bufio.NewWriter(out)
	for _, r := range reports {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal epoch report: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write epoch report: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush reports: %w", err)
	}
	return nil
}
