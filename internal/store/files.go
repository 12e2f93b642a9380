package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mrc-ide/outpack-server/internal/hash"
)

// FilePath returns where the file with the given hash is stored
func (r *Root) FilePath(h string) (string, error) {
	parsed, err := hash.Parse(h)
	if err != nil {
		return "", &InvalidInputError{Message: err.Error()}
	}
	return filepath.Join(r.path, outpackDir, "files",
		string(parsed.Algorithm), parsed.Value[:2], parsed.Value[2:]), nil
}

// FileExists reports whether the file with the given hash is stored
func (r *Root) FileExists(h string) (bool, error) {
	path, err := r.FilePath(h)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// MissingFiles returns the hashes that are not stored, in input order
func (r *Root) MissingFiles(hashes []string) ([]string, error) {
	missing := make([]string, 0)
	for _, h := range hashes {
		ok, err := r.FileExists(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// PutFile stores content read from src under hash h. The content must match
// the hash. Storing a file that already exists is a no-op.
func (r *Root) PutFile(src io.Reader, h string) error {
	path, err := r.FilePath(h)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to receive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := hash.ValidateFile(tmp.Name(), h); err != nil {
		return &InvalidInputError{Message: err.Error()}
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	r.logger.Debug("file stored", zap.String("hash", h))
	return nil
}

// OpenFile opens the stored file with hash h for reading
func (r *Root) OpenFile(h string) (*os.File, error) {
	path, err := r.FilePath(h)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{What: "hash", ID: h}
	}
	return f, err
}
