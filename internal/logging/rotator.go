package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer that rotates its log file by size and by
// day, compressing and pruning rotated files in the background.
type FileRotator struct {
	config   *Config
	mu       sync.Mutex
	file     *os.File
	size     int64
	openedAt time.Time
}

// NewFileRotator creates a rotator writing to cfg.FilePath.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{config: cfg}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) openFile() error {
	file, err := os.OpenFile(r.config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	r.openedAt = time.Now()
	return nil
}

// Write implements io.Writer.
func (r *FileRotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}

	if r.needsRotate(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// needsRotate reports whether the next write of n bytes should go to a
// fresh file. Rotation happens on size overflow or on day change.
func (r *FileRotator) needsRotate(n int64) bool {
	if r.size+n > r.config.MaxSize*1024*1024 {
		return true
	}
	now := time.Now()
	return r.openedAt.Day() != now.Day()
}

func (r *FileRotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close current log: %w", err)
		}
	}

	timestamp := time.Now().Format("20060102-150405")
	base := filepath.Base(r.config.FilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	dir := filepath.Dir(r.config.FilePath)
	rotatedPath := filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, timestamp, ext))

	if err := os.Rename(r.config.FilePath, rotatedPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if err := r.openFile(); err != nil {
		return err
	}

	compress := r.config.Compress
	go r.maintain(rotatedPath, compress)
	return nil
}

// maintain compresses the freshly rotated file and prunes rotated files
// past the retention policy. Runs off the write path; failures leave the
// uncompressed file in place for the next pass.
func (r *FileRotator) maintain(rotatedPath string, compress bool) {
	if compress {
		compressFile(rotatedPath)
	}

	files := r.rotatedFiles()

	if r.config.MaxBackups > 0 && len(files) > r.config.MaxBackups {
		for _, f := range files[:len(files)-r.config.MaxBackups] {
			os.Remove(f.path)
		}
		files = files[len(files)-r.config.MaxBackups:]
	}

	if r.config.MaxAge > 0 {
		cutoff := time.Now().AddDate(0, 0, -r.config.MaxAge)
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				os.Remove(f.path)
			}
		}
	}
}

type rotatedFile struct {
	path    string
	modTime time.Time
}

// rotatedFiles lists rotated log files, oldest first.
func (r *FileRotator) rotatedFiles() []rotatedFile {
	base := filepath.Base(r.config.FilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	pattern := filepath.Join(filepath.Dir(r.config.FilePath), name+"-*"+ext+"*")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}

	files := make([]rotatedFile, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		files = append(files, rotatedFile{path: match, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	return files
}

func compressFile(path string) {
	input, err := os.Open(path)
	if err != nil {
		return
	}
	defer input.Close()

	output, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer output.Close()

	gz := gzip.NewWriter(output)
	gz.Name = filepath.Base(path)
	gz.ModTime = time.Now()

	if _, err := io.Copy(gz, input); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

// Close closes the rotator and its underlying file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes any buffered data to the file.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

// LogFiles returns the current log file plus any rotated ones.
func (r *FileRotator) LogFiles() ([]string, error) {
	files := []string{r.config.FilePath}
	for _, f := range r.rotatedFiles() {
		files = append(files, f.path)
	}
	return files, nil
}
