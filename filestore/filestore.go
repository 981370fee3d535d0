// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package filestore persists file payloads referenced by file parts, keyed
// by task id, so large content can travel by URI instead of inline bytes.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no file exists under the requested name.
var ErrNotFound = errors.New("file not found")

// Store persists file content keyed by task id and file name.
// Implementations must be safe for concurrent use.
type Store interface {
	// Upload writes the content under the task's namespace and returns a
	// URI that Download resolves.
	Upload(ctx context.Context, taskID, name string, content io.Reader) (string, error)

	// Download opens the named file. The caller closes the reader.
	Download(ctx context.Context, taskID, name string) (io.ReadCloser, error)

	// Delete removes the named file. Deleting an absent file is not an
	// error.
	Delete(ctx context.Context, taskID, name string) error

	// List returns the names of all files stored for a task.
	List(ctx context.Context, taskID string) ([]string, error)
}

// LocalStore keeps files on the local filesystem under a base directory,
// one subdirectory per task id.
type LocalStore struct {
	baseDir string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates a LocalStore rooted at baseDir, creating it if
// needed.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// path resolves a task-scoped file path, rejecting names that escape the
// task's directory.
func (s *LocalStore) path(taskID, name string) (string, error) {
	if taskID == "" {
		return "", fmt.Errorf("task ID cannot be empty")
	}
	if name == "" {
		return "", fmt.Errorf("file name cannot be empty")
	}

	dir := filepath.Join(s.baseDir, taskID)
	full := filepath.Join(dir, name)
	if !strings.HasPrefix(full, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid file name: %q", name)
	}
	return full, nil
}

// Upload implements [Store]. The returned URI uses the file scheme.
func (s *LocalStore) Upload(ctx context.Context, taskID, name string, content io.Reader) (string, error) {
	full, err := s.path(taskID, name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create task directory: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return "file://" + full, nil
}

// Download implements [Store].
func (s *LocalStore) Download(ctx context.Context, taskID, name string) (io.ReadCloser, error) {
	full, err := s.path(taskID, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete implements [Store].
func (s *LocalStore) Delete(ctx context.Context, taskID, name string) error {
	full, err := s.path(taskID, name)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List implements [Store].
func (s *LocalStore) List(ctx context.Context, taskID string) ([]string, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task ID cannot be empty")
	}

	entries, err := os.ReadDir(filepath.Join(s.baseDir, taskID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list task files: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
