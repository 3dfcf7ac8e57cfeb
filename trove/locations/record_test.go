package locations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordDisplayName(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"ResolvedNameOnly", Record{Name: "Jita"}, "Jita"},
		{"CustomNameWins", Record{Name: "Jita", CustomName: "Market Hub"}, "Market Hub"},
		{"CustomNameOnly", Record{CustomName: "Mystery Spot"}, "Mystery Spot"},
		{"Empty", Record{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.DisplayName())
		})
	}
}

func TestRecordHasConflict(t *testing.T) {
	assert.False(t, Record{Name: "Jita"}.HasConflict())
	assert.False(t, Record{CustomName: "Home"}.HasConflict())
	assert.False(t, Record{Name: "Home", CustomName: "Home"}.HasConflict())
	assert.True(t, Record{Name: "Jita", CustomName: "Home"}.HasConflict())
}

func TestIsStructureID(t *testing.T) {
	assert.False(t, IsStructureID(testStationID))
	assert.False(t, IsStructureID(testSystemID))
	assert.False(t, IsStructureID(999_999_999_999))
	assert.True(t, IsStructureID(structureIDMin))
	assert.True(t, IsStructureID(testStructureID))
}
