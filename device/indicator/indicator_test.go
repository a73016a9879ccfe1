package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, ValueOn, level(true, false))
	assert.Equal(t, ValueOff, level(false, false))
	assert.Equal(t, ValueOff, level(true, true))
	assert.Equal(t, ValueOn, level(false, true))
}

func TestNewNone(t *testing.T) {
	ind, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, ind)
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(Config{Type: "pwm"})
	assert.Error(t, err)
}
