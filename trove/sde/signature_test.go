package sde

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeDetector(t *testing.T) {
	dir := t.TempDir()
	writeFixtureFile(t, dir, "types.jsonl", []string{`{"_key": 1}`}, fixtureBase)

	detector := NewChangeDetector(dir)

	t.Run("SignatureForExistingFile", func(t *testing.T) {
		sig, err := detector.Signature("types.jsonl")
		require.NoError(t, err)
		assert.Equal(t, "types.jsonl", sig.Path)
		assert.Equal(t, int64(12), sig.Size)
		assert.True(t, sig.ModTime.Equal(fixtureBase))
	})

	t.Run("MissingFilesAreOmitted", func(t *testing.T) {
		sigs := detector.Signatures([]string{"types.jsonl", "groups.jsonl"})
		assert.Len(t, sigs, 1)
		_, ok := sigs["groups.jsonl"]
		assert.False(t, ok)
	})
}

func TestSignaturesMatch(t *testing.T) {
	base := FileSignature{Path: "types.jsonl", Size: 10, ModTime: fixtureBase}

	tests := []struct {
		name    string
		current map[string]FileSignature
		stored  map[string]FileSignature
		want    bool
	}{
		{
			"IdenticalSignatures",
			map[string]FileSignature{"types.jsonl": base},
			map[string]FileSignature{"types.jsonl": base},
			true,
		},
		{
			"SizeChanged",
			map[string]FileSignature{"types.jsonl": {Path: "types.jsonl", Size: 11, ModTime: fixtureBase}},
			map[string]FileSignature{"types.jsonl": base},
			false,
		},
		{
			"ModTimeChanged",
			map[string]FileSignature{"types.jsonl": {Path: "types.jsonl", Size: 10, ModTime: fixtureBase.Add(time.Second)}},
			map[string]FileSignature{"types.jsonl": base},
			false,
		},
		{
			"FileMissingNow",
			map[string]FileSignature{},
			map[string]FileSignature{"types.jsonl": base},
			false,
		},
		{
			"FileNeverSeenBefore",
			map[string]FileSignature{"types.jsonl": base},
			map[string]FileSignature{},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := signaturesMatch(tt.current, tt.stored, []string{"types.jsonl"})
			assert.Equal(t, tt.want, got)
		})
	}
}
