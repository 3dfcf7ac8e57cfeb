package sde

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshot file format (versioned, little-endian):
// [magic 'EVSN'] [u32 version] [gob-encoded snapshotPayload]
// Anything that fails to decode is reported as ErrCorruptSnapshot and treated
// as a full cache miss by the caller.

var snapshotMagic = [4]byte{'E', 'V', 'S', 'N'}

const snapshotVersion uint32 = 1

// snapshotPayload is the persisted form of all primary indexes plus build
// metadata. Derived indexes are recomputed on load.
type snapshotPayload struct {
	Meta             Metadata
	Types            map[int64]Type
	Categories       map[int64]Category
	Groups           map[int64]Group
	MarketGroups     map[int64]MarketGroup
	BlueprintTypeIDs []int64
	Stations         map[int64]Station
	RegionNames      map[int64]string
	Constellations   map[int64]Constellation
	SolarSystems     map[int64]SolarSystem
}

// persistSnapshot writes the payload to path atomically: the full file is
// written to a temporary sibling first and renamed over the target, so a
// crash mid-write never corrupts an existing snapshot.
func persistSnapshot(path string, payload *snapshotPayload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create snapshot directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, snapshotVersion); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot version: %w", err)
	}
	if err := gob.NewEncoder(w).Encode(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close snapshot temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// loadSnapshot reads a snapshot persisted with persistSnapshot. A missing
// file returns os.ErrNotExist; any decode failure returns ErrCorruptSnapshot.
func loadSnapshot(path string) (*snapshotPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(data) < len(snapshotMagic)+4 || !bytes.Equal(data[:4], snapshotMagic[:]) {
		return nil, ErrCorruptSnapshot
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptSnapshot, version)
	}

	var payload snapshotPayload
	if err := gob.NewDecoder(bytes.NewReader(data[8:])).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if payload.Meta.Signatures == nil {
		return nil, fmt.Errorf("%w: missing metadata", ErrCorruptSnapshot)
	}
	return &payload, nil
}
