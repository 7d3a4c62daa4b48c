package isolation

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"read-uncommitted", ReadUncommitted},
		{"Read Uncommitted", ReadUncommitted},
		{"uncommitted", ReadUncommitted},
		{"RU", ReadUncommitted},
		{"read_committed", ReadCommitted},
		{"committed", ReadCommitted},
		{"repeatable-read", RepeatableRead},
		{"repeatable", RepeatableRead},
		{"SERIALIZABLE", Serializable},
		{" ser ", Serializable},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Unknown(t *testing.T) {
	_, err := Parse("snapshot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot")
	assert.Contains(t, err.Error(), "serializable")
}

func TestString_RoundTrip(t *testing.T) {
	RunEachLevel(t, func(t *testing.T, l Level) {
		parsed, err := Parse(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	})
}

func TestString_Invalid(t *testing.T) {
	assert.Equal(t, "Level(9)", Level(9).String())
	assert.False(t, Level(9).Valid())
}

func TestWeakerThan(t *testing.T) {
	assert.True(t, ReadUncommitted.WeakerThan(ReadCommitted))
	assert.True(t, ReadCommitted.WeakerThan(Serializable))
	assert.False(t, Serializable.WeakerThan(RepeatableRead))
	assert.False(t, RepeatableRead.WeakerThan(RepeatableRead))
}

func TestUsesSnapshot(t *testing.T) {
	assert.False(t, ReadUncommitted.UsesSnapshot())
	assert.False(t, ReadCommitted.UsesSnapshot())
	assert.True(t, RepeatableRead.UsesSnapshot())
	assert.True(t, Serializable.UsesSnapshot())
}

func TestSQL(t *testing.T) {
	assert.Equal(t, sql.LevelReadUncommitted, ReadUncommitted.SQL())
	assert.Equal(t, sql.LevelReadCommitted, ReadCommitted.SQL())
	assert.Equal(t, sql.LevelRepeatableRead, RepeatableRead.SQL())
	assert.Equal(t, sql.LevelSerializable, Serializable.SQL())
	assert.Equal(t, sql.LevelDefault, Level(-1).SQL())
}

func TestText(t *testing.T) {
	b, err := RepeatableRead.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "repeatable-read", string(b))

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("committed")))
	assert.Equal(t, ReadCommitted, l)

	require.Error(t, l.UnmarshalText([]byte("bogus")))
	_, err = Level(42).MarshalText()
	require.Error(t, err)
}

func TestLevels_Ordered(t *testing.T) {
	levels := Levels()
	require.Len(t, levels, 4)
	for i := 1; i < len(levels); i++ {
		assert.True(t, levels[i-1].WeakerThan(levels[i]))
	}
}
