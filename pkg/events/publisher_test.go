package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateIfNeeded_PassesThroughSmallPayload(t *testing.T) {
	small := `{"type":"meeting.status"}`
	out, err := truncateIfNeeded(small)
	require.NoError(t, err)
	assert.Equal(t, small, out)
}

func TestTruncateIfNeeded_TruncatesOversizePayload(t *testing.T) {
	huge := `{"type":"transcript.finalized","payload":"` + strings.Repeat("x", 8000) + `"}`
	out, err := truncateIfNeeded(huge)
	require.NoError(t, err)
	assert.Less(t, len(out), len(huge))
	assert.Contains(t, out, `"code":"truncated"`)
}
