package logging

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"credit_pool/internal/models"
)

// FileWriter appends usage batches as JSON Lines to local files, rotating
// on size and keeping at most maxFiles of them.
type FileWriter struct {
	fileTemplate string // template for file names, e.g. "/var/log/creditpool/usage-%s.jsonl"
	maxSize      int64  // maximum size in bytes before rotation
	maxFiles     int    // maximum number of rotated files to keep

	mu          sync.Mutex
	currentFile string
	file        *os.File
	writer      *bufio.Writer
	currentSize int64
	seq         int
	now         func() time.Time
}

// NewFileWriter opens the first file from fileTemplate, which must contain
// one %s for the rotation stamp.
func NewFileWriter(fileTemplate string, maxSize int64, maxFiles int) (*FileWriter, error) {
	if maxSize <= 0 {
		maxSize = 100 << 20
	}
	if maxFiles <= 0 {
		maxFiles = 10
	}
	w := &FileWriter{
		fileTemplate: fileTemplate,
		maxSize:      maxSize,
		maxFiles:     maxFiles,
		now:          time.Now,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// newFileName stamps the template with the time and a sequence number so
// rotations within the same second do not collide.
func (w *FileWriter) newFileName() string {
	w.seq++
	stamp := fmt.Sprintf("%s-%04d", w.now().Format("20060102150405"), w.seq)
	return fmt.Sprintf(w.fileTemplate, stamp)
}

// openFile opens the next file and prepares the buffered writer. The
// directory is created if needed.
func (w *FileWriter) openFile() error {
	w.currentFile = w.newFileName()
	dir := filepath.Dir(w.currentFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(w.currentFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	w.currentSize = fi.Size()
	w.file = file
	w.writer = bufio.NewWriter(file)
	return nil
}

// rotateIfNeeded starts a new file when adding n bytes would pass maxSize.
// An empty file is never rotated, so an oversized line still lands somewhere.
func (w *FileWriter) rotateIfNeeded(n int) error {
	if w.currentSize == 0 || w.currentSize+int64(n) < w.maxSize {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := w.openFile(); err != nil {
		return err
	}
	return w.cleanupOldFiles()
}

// cleanupOldFiles removes the oldest files once more than maxFiles exist.
func (w *FileWriter) cleanupOldFiles() error {
	pattern := fmt.Sprintf(w.fileTemplate, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	// Stamps sort chronologically.
	sort.Strings(matches)

	excess := len(matches) - w.maxFiles
	for i := 0; i < excess; i++ {
		if matches[i] == w.currentFile {
			continue
		}
		_ = os.Remove(matches[i])
	}
	return nil
}

// WriteBatch appends records and flushes them to disk. It returns the file
// the batch ended in.
func (w *FileWriter) WriteBatch(ctx context.Context, records []*models.UsagePoolRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return "", ErrSinkClosed
	}

	buf, err := encodeLines(records)
	if err != nil {
		return "", err
	}
	for _, line := range splitLines(buf.Bytes()) {
		if err := w.rotateIfNeeded(len(line)); err != nil {
			return "", fmt.Errorf("failed to rotate usage file: %w", err)
		}
		n, err := w.writer.Write(line)
		w.currentSize += int64(n)
		if err != nil {
			return "", fmt.Errorf("failed to write usage file: %w", err)
		}
	}
	if err := w.writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush usage file: %w", err)
	}
	return w.currentFile, nil
}

// CurrentFile returns the file being written.
func (w *FileWriter) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentFile
}

// Close flushes and closes the current file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	flushErr := w.writer.Flush()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// splitLines splits JSON Lines output keeping each trailing newline.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
