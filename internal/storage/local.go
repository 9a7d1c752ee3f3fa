// Package storage keeps generated media on the local disk under one root.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ifuryst/quickbyte/pkg/util"
)

const randomNameLength = 10

// Local stores files below Root. Relative paths returned by its methods are
// what the database records.
type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

// Path resolves a relative storage path to a filesystem path.
func (l *Local) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// ScriptAssetPath returns scripts/{id}/{subdir}/{prefix}{random}.{ext}.
func (l *Local) ScriptAssetPath(scriptID uint, subdir, prefix, ext string) string {
	name := prefix + util.RandomString(randomNameLength) + "." + strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("scripts/%d/%s/%s", scriptID, subdir, name)
}

// ScriptVideoPath returns scripts/{id}/generated_videos/{uuid}.mp4.
func (l *Local) ScriptVideoPath(scriptID uint) string {
	return fmt.Sprintf("scripts/%d/generated_videos/%s.mp4", scriptID, uuid.NewString())
}

// TempPath returns a unique relative path under temp/.
func (l *Local) TempPath(prefix, ext string) string {
	return "temp/" + prefix + uuid.NewString() + "." + strings.TrimPrefix(ext, ".")
}

// Exists reports whether rel is a regular file.
func (l *Local) Exists(rel string) bool {
	info, err := os.Stat(l.Path(rel))
	return err == nil && !info.IsDir()
}

// Size returns the size of rel in bytes.
func (l *Local) Size(rel string) (int64, error) {
	info, err := os.Stat(l.Path(rel))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Put writes r to rel, creating parent directories.
func (l *Local) Put(rel string, r io.Reader) error {
	full := l.Path(rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", rel, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return f.Close()
}

// PutBytes writes data to rel.
func (l *Local) PutBytes(rel string, data []byte) error {
	full := l.Path(rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	return os.WriteFile(full, data, 0o644)
}

// Move renames src to dst, falling back to copy and delete across devices.
func (l *Local) Move(src, dst string) error {
	from, to := l.Path(src), l.Path(dst)
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := os.Rename(from, to); err == nil {
		return nil
	}

	in, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()
	if err := l.Put(dst, in); err != nil {
		return err
	}
	return os.Remove(from)
}

// Remove deletes rel, ignoring files that are already gone.
func (l *Local) Remove(rel string) error {
	err := os.Remove(l.Path(rel))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// EnsureDir creates the directory rel.
func (l *Local) EnsureDir(rel string) error {
	return os.MkdirAll(l.Path(rel), 0o755)
}
