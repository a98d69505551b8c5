/*
Copyright The Pgha Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package fileutils collects the small filesystem primitives the keeper
// depends on for its durable state: atomic writes (write-to-temp-then-
// rename), change detection, and plain directory helpers.
package fileutils

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

const atomicWriteMode = 0o600

// FileExists reports whether path exists, treating a stat error other than
// "not exist" as a real error rather than silently returning false.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// WriteFileAtomic writes data to path by first writing it to a temporary
// file in the same directory, then renaming it into place, so a reader
// (or a crash) never observes a partial write. It reports whether the
// content differs from what was previously on disk.
func WriteFileAtomic(path string, data []byte) (changed bool, err error) {
	if existing, readErr := os.ReadFile(path); readErr == nil {
		if bytes.Equal(existing, data) {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("while creating directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return false, fmt.Errorf("while creating temporary file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("while writing temporary file %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("while fsyncing temporary file %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("while closing temporary file %q: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, atomicWriteMode); err != nil {
		return false, fmt.Errorf("while setting permissions on %q: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return false, fmt.Errorf("while renaming %q to %q: %w", tmpName, path, err)
	}

	return true, nil
}

// WriteStringToFile is a convenience wrapper around WriteFileAtomic for
// plain-text content.
func WriteStringToFile(path, contents string) (changed bool, err error) {
	return WriteFileAtomic(path, []byte(contents))
}

// CopyFile copies src to dst, creating dst's parent directory if needed.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("while reading %q: %w", src, err)
	}
	if _, err := WriteFileAtomic(dst, data); err != nil {
		return fmt.Errorf("while writing %q: %w", dst, err)
	}
	return nil
}

// RemoveDirectoryContent removes every entry inside dir without removing
// dir itself.
func RemoveDirectoryContent(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("while reading directory %q: %w", dir, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("while removing %q: %w", entry.Name(), err)
		}
	}
	return nil
}

// GetDirectoryContent returns the names (not full paths) of every entry
// directly inside dir.
func GetDirectoryContent(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("while reading directory %q: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}
