package prompt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioAsk(t *testing.T) {
	var out bytes.Buffer
	s := &Stdio{In: strings.NewReader("custom\n\n"), Out: &out}

	answer, err := s.Ask("Cluster name", "rg-cluster")
	require.NoError(t, err)
	assert.Equal(t, "custom", answer)

	// Empty reply falls back to the default.
	answer, err = s.Ask("Cluster name", "rg-cluster")
	require.NoError(t, err)
	assert.Equal(t, "rg-cluster", answer)

	assert.Contains(t, out.String(), "[rg-cluster]")
}

func TestStdioConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"Yes\n", true},
		{"n\n", false},
		{"\n", false},
		{"whatever\n", false},
	}

	for _, tt := range tests {
		s := &Stdio{In: strings.NewReader(tt.input), Out: &bytes.Buffer{}}
		got, err := s.Confirm("Continue?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestNonInteractive(t *testing.T) {
	deny := &NonInteractive{}
	answer, err := deny.Ask("Anything", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", answer)

	ok, err := deny.Confirm("Continue despite mismatch?")
	require.NoError(t, err)
	assert.False(t, ok, "unattended runs deny confirmations by default")

	grant := &NonInteractive{ConfirmAnswer: true}
	ok, err = grant.Confirm("Continue despite mismatch?")
	require.NoError(t, err)
	assert.True(t, ok)
}
