package fsops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals data to YAML and writes it atomically.
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw writes content to path through a same-directory temp file:
// write, fsync, re-read and validate, back up the original, then rename. The
// rename is the only visible state change; a crash at any earlier step leaves
// the original untouched.
func AtomicWriteRaw(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".foldergate-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", classify(err))
	}
	tmpName := tmp.Name()

	defer func() {
		// Clean up temp file on any failure
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", classify(err))
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", classify(err))
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", classify(err))
	}

	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read temp file for validation: %w", classify(err))
	}
	if err := validateYAML(written); err != nil {
		return fmt.Errorf("yaml validation failed: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		bakPath := path + ".bak"
		if err := copyFile(path, bakPath); err != nil {
			return fmt.Errorf("create backup: %w", classify(err))
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", classify(err))
	}

	return nil
}

func validateYAML(content []byte) error {
	var v any
	return yamlv3.Unmarshal(content, &v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
