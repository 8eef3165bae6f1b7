package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLoggerCapturesDecodeDiagnostics(t *testing.T) {
	original := Logf
	defer SetLogger(original)

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Logf("stream: %d consecutive strict failures at 0x%X, engaging heuristic decode", 3, 0x4A0)
	Logf("stream: strict decode resynced at 0x%X", 0x7F0)

	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "engaging heuristic decode")
	assert.Equal(t, "stream: strict decode resynced at 0x7F0", lines[1])
}

func TestSetLoggerNilMutes(t *testing.T) {
	original := Logf
	defer SetLogger(original)

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)

	Logf("heuristic: coordinate hit outside band at 0x%X", 0x120)
	assert.False(t, called)
	require.NotNil(t, Logf)
}
