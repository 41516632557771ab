package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveNamedKeys(t *testing.T) {
	cases := map[string]string{
		"enter":      "\r",
		"Enter":      "\r",
		"escape":     "\x1b",
		"tab":        "\t",
		"arrow_up":   "\x1b[A",
		"arrow-down": "\x1b[B",
		"f5":         "\x1b[15~",
		"shift_tab":  "\x1b[Z",
	}
	for name, want := range cases {
		got, err := Resolve(name)
		require.NoError(t, err, name)
		assert.Equal(t, []byte(want), got, name)
	}
}

func TestResolveCtrlCombinations(t *testing.T) {
	got, err := Resolve("ctrl_c")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, got)

	got, err = Resolve("ctrl_a")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)

	got, err = Resolve("ctrl_z")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1a}, got)
}

func TestResolveUnknownKeyFails(t *testing.T) {
	_, err := Resolve("hyperspace")
	assert.Error(t, err)
	_, err = Resolve("ctrl_9")
	assert.Error(t, err)
	_, err = Resolve("")
	assert.Error(t, err)
}
