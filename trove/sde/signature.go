package sde

import (
	"fmt"
	"os"
	"path/filepath"
)

// ChangeDetector computes FileSignatures for tracked source files inside one
// SDE directory. A missing file produces no signature, which a comparison
// treats the same as a changed file.
type ChangeDetector struct {
	dir string
}

// NewChangeDetector creates a detector rooted at the given SDE directory.
func NewChangeDetector(dir string) *ChangeDetector {
	return &ChangeDetector{dir: dir}
}

// Signature stats a single tracked file by name.
func (d *ChangeDetector) Signature(name string) (FileSignature, error) {
	path := filepath.Join(d.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return FileSignature{}, fmt.Errorf("failed to stat source file %s: %w", path, err)
	}
	return FileSignature{
		Path:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Signatures returns the signatures of every named file that currently
// exists. Missing files are simply absent from the result.
func (d *ChangeDetector) Signatures(names []string) map[string]FileSignature {
	sigs := make(map[string]FileSignature, len(names))
	for _, name := range names {
		sig, err := d.Signature(name)
		if err != nil {
			continue
		}
		sigs[name] = sig
	}
	return sigs
}

// signaturesMatch reports whether every named file has the same signature in
// both maps. A file absent from either side counts as a mismatch.
func signaturesMatch(current, stored map[string]FileSignature, names []string) bool {
	for _, name := range names {
		cur, okCur := current[name]
		old, okOld := stored[name]
		if !okCur || !okOld || !cur.Equal(old) {
			return false
		}
	}
	return true
}
