package inject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifiedDiff(t *testing.T) {
	t.Parallel()

	t.Run("equal", func(t *testing.T) {
		diff, err := UnifiedDiff("a.js", shopSource, shopSource, 2)
		require.NoError(t, err)
		assert.Empty(t, diff)
	})

	t.Run("instrumented", func(t *testing.T) {
		diff, err := UnifiedDiff("src/shop.js", shopSource, shopInstrumented, 1)
		require.NoError(t, err)

		assert.Contains(t, diff, "--- src/shop.js\n")
		assert.Contains(t, diff, "+++ src/shop.js (instrumented)\n")
		assert.Contains(t, diff, "+  tracer.capture(\"checkout:start\");\n")
		assert.Contains(t, diff, "+  tracer.capture(\"checkout:end\");\n")
		assert.NotContains(t, diff, "\n-")
	})
}
