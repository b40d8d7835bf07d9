// Package workspace owns the on-disk layout of uploads: one directory per session identifier
// under a common root, holding every file uploaded during that session.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wsdrop/wsdrop/ident"
	"github.com/wsdrop/wsdrop/internal"
)

var ErrInvalidName = errors.New("invalid file name")

type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

// Path returns the workspace directory for id. It does not check that id is valid.
func (s *Store) Path(id string) string {
	return filepath.Join(s.Root, id)
}

// Reset removes whatever is left in the workspace for id. Fresh identifiers can collide with
// an old one, and a new session must never see the previous occupant's files.
func (s *Store) Reset(id string) error {
	dir := s.Path(id)
	if _, err := os.Lstat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("Reset: cannot inspect workspace %s: %w", dir, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("Reset: failed to remove stale workspace %s: %w", dir, err)
	}
	return nil
}

// Ensure creates the workspace directory for id if it does not exist yet.
func (s *Store) Ensure(id string) (string, error) {
	dir := s.Path(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("Ensure: %w", err)
	}
	return dir, nil
}

// Create opens name inside the workspace for id in append mode, creating the workspace and the
// file as needed. The name must be a single path segment.
func (s *Store) Create(id, name string) (*os.File, error) {
	name, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	dir, err := s.Ensure(id)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	return f, nil
}

// Remove deletes the workspace for id and everything in it.
func (s *Store) Remove(id string) error {
	return os.RemoveAll(s.Path(id))
}

// Lookup returns the path of the first regular file in the workspace for id, in the order the
// filesystem lists the directory. Every failure is internal.ErrAccessDenied so that callers
// cannot tell a malformed id from a missing or empty workspace.
func (s *Store) Lookup(id string) (string, error) {
	if !ident.Valid(id) {
		return "", internal.ErrAccessDenied
	}
	dir := s.Path(id)
	d, err := os.Open(dir)
	if err != nil {
		return "", internal.ErrAccessDenied
	}
	defer d.Close()
	for {
		entries, err := d.ReadDir(16)
		for _, e := range entries {
			if e.Type().IsRegular() {
				return filepath.Join(dir, e.Name()), nil
			}
		}
		if err == io.EOF {
			return "", internal.ErrAccessDenied
		}
		if err != nil {
			logger.Warn().Err(err).Str("id", id).Msg("Lookup: failed to list workspace")
			return "", internal.ErrAccessDenied
		}
	}
}

// SanitizeName validates a client supplied file name. Names are used verbatim as a single path
// segment inside the workspace, so separators, dot segments and surrounding whitespace are
// rejected rather than cleaned.
func SanitizeName(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	if strings.TrimSpace(name) != name {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidName
	}
	if strings.ContainsRune(name, 0) {
		return "", ErrInvalidName
	}
	if filepath.VolumeName(name) != "" {
		return "", ErrInvalidName
	}
	return name, nil
}
