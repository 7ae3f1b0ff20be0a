package utils

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReferenceIsUniqueAndSorted(t *testing.T) {
	g := NewIDGenerator()
	prev := ""
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		ref := g.NewReference("PI")
		require.True(t, strings.HasPrefix(ref, "pi_"))
		_, err := ulid.ParseStrict(strings.TrimPrefix(ref, "pi_"))
		require.NoError(t, err)

		_, dup := seen[ref]
		require.False(t, dup)
		seen[ref] = struct{}{}

		assert.Greater(t, ref, prev)
		prev = ref
	}
}
