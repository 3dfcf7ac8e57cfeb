package sde

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLParser(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"LocalizedNames", testParserLocalizedNames},
		{"MalformedLinesAreSkipped", testParserMalformedLinesSkipped},
		{"MissingFileIsAnError", testParserMissingFile},
		{"BlueprintRowsWithoutIDAreDropped", testParserBlueprintRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testParserLocalizedNames(t *testing.T) {
	dir := t.TempDir()
	writeFixtureFile(t, dir, "mapRegions.jsonl", []string{
		`{"_key": 1, "name": "Plain String"}`,
		`{"_key": 2, "name": {"en": "English", "de": "Deutsch"}}`,
		`{"_key": 3, "name": {"ja": "Nihongo", "de": "Deutsch"}}`,
	}, time.Now())

	names, err := NewJSONLParser(dir).RegionNames()
	require.NoError(t, err)

	assert.Equal(t, "Plain String", names[1])
	assert.Equal(t, "English", names[2], "English wins when present")
	assert.Equal(t, "Deutsch", names[3], "Without English the first language sorts first")
}

func testParserMalformedLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFixtureFile(t, dir, "types.jsonl", []string{
		`{"_key": 587, "groupID": 25, "name": "Rifter", "published": true}`,
		`{not json at all`,
		``,
		`{"_key": 588, "groupID": 25, "name": "Slasher", "published": true}`,
	}, time.Now())

	types, err := NewJSONLParser(dir).Types()
	require.NoError(t, err, "One bad line should not fail the index")
	assert.Len(t, types, 2)
	assert.Equal(t, "Slasher", types[588].Name)
}

func testParserMissingFile(t *testing.T) {
	parser := NewJSONLParser(t.TempDir())

	_, err := parser.Types()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func testParserBlueprintRows(t *testing.T) {
	dir := t.TempDir()
	writeFixtureFile(t, dir, "blueprints.jsonl", []string{
		`{"blueprintTypeID": 691}`,
		`{"maxProductionLimit": 10}`,
		`{"blueprintTypeID": 787}`,
	}, time.Now())

	ids, err := NewJSONLParser(dir).BlueprintTypeIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{691, 787}, ids)
}
