package cache

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	fileExt       = ".cache"
	fileExtPacked = ".cache.gz"
)

// envelope is the on-disk record: payload, the meta needed for scoped
// invalidation, and the entry's own TTL so a short-lived value cannot be
// revived from disk after it expired from memory.
type envelope struct {
	Meta Meta          `json:"meta"`
	TTL  time.Duration `json:"ttl"`
	Data []byte        `json:"data"`
}

type diskTier struct {
	dir      string
	compress bool
}

func newDiskTier(dir string, compress bool) (*diskTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskTier{dir: dir, compress: compress}, nil
}

func (d *diskTier) path(key string) string {
	ext := fileExt
	if d.compress {
		ext = fileExtPacked
	}
	return filepath.Join(d.dir, key+ext)
}

// write persists the entry. The file mtime doubles as the stored-at
// timestamp for TTL checks.
func (d *diskTier) write(key string, data []byte, ttl time.Duration, meta Meta) error {
	blob, err := json.Marshal(envelope{Meta: meta, TTL: ttl, Data: data})
	if err != nil {
		return err
	}
	if d.compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(blob); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		blob = buf.Bytes()
	}

	tmp := d.path(key) + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.path(key))
}

// read loads an entry if it exists and is younger than both maxAge and
// its own stored TTL. Corrupt or stale files are deleted and reported as
// a miss.
func (d *diskTier) read(key string, maxAge time.Duration) (data []byte, meta Meta, age, ttl time.Duration, ok bool) {
	path := d.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, Meta{}, 0, 0, false
	}
	age = time.Since(info.ModTime())
	if age > maxAge {
		os.Remove(path)
		return nil, Meta{}, 0, 0, false
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, Meta{}, 0, 0, false
	}
	if d.compress {
		zr, err := gzip.NewReader(bytes.NewReader(blob))
		if err != nil {
			os.Remove(path)
			return nil, Meta{}, 0, 0, false
		}
		blob, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			os.Remove(path)
			return nil, Meta{}, 0, 0, false
		}
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		os.Remove(path)
		return nil, Meta{}, 0, 0, false
	}
	if env.TTL > 0 && age > env.TTL {
		os.Remove(path)
		return nil, Meta{}, 0, 0, false
	}
	return env.Data, env.Meta, age, env.TTL, true
}

// invalidate removes matching files. A nil scope removes every cache file.
func (d *diskTier) invalidate(scope *Scope) {
	files, err := os.ReadDir(d.dir)
	if err != nil {
		return
	}
	for _, f := range files {
		name := f.Name()
		if !strings.HasSuffix(name, fileExt) && !strings.HasSuffix(name, fileExtPacked) {
			continue
		}
		path := filepath.Join(d.dir, name)
		if scope == nil {
			os.Remove(path)
			continue
		}
		key := strings.TrimSuffix(strings.TrimSuffix(name, fileExtPacked), fileExt)
		if data, meta, _, _, ok := d.read(key, time.Duration(1<<62)); ok && data != nil {
			if scope.matches(meta) {
				os.Remove(path)
			}
		}
	}
}

// sweep deletes files older than ttl, returning the number removed.
func (d *diskTier) sweep(ttl time.Duration) int {
	files, err := os.ReadDir(d.dir)
	if err != nil {
		return 0
	}
	removed := 0
	cutoff := time.Now().Add(-ttl)
	for _, f := range files {
		name := f.Name()
		if !strings.HasSuffix(name, fileExt) && !strings.HasSuffix(name, fileExtPacked) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(d.dir, name))
			removed++
		}
	}
	return removed
}
