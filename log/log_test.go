package log

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSetLevelFilters(t *testing.T) {
	out := &syncBuffer{}
	SetOutput(out)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		require.NoError(t, SetLevel("info"))
	})

	require.NoError(t, SetLevel("warn"))
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, out.String(), "hidden 1")
	assert.Contains(t, out.String(), "shown 2")
	assert.Equal(t, zerolog.WarnLevel, Logger().GetLevel())

	assert.Error(t, SetLevel("loud"))
	assert.Equal(t, zerolog.WarnLevel, Logger().GetLevel(), "unknown level leaves it unchanged")
}

func TestReconfigureWhileLogging(t *testing.T) {
	out := &syncBuffer{}
	SetOutput(out)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		require.NoError(t, SetLevel("info"))
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				Infof("worker %d line %d", i, n)
				Debugf("worker %d debug %d", i, n)
			}
		}(i)
	}
	for n := 0; n < 200; n++ {
		if n%2 == 0 {
			_ = SetLevel("debug")
		} else {
			_ = SetLevel("info")
		}
		SetOutput(out)
	}
	wg.Wait()

	assert.Contains(t, out.String(), "worker 0 line 199")
}

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"":        zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
	} {
		got, ok := ParseLevel(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := ParseLevel("loud")
	assert.False(t, ok)
}
