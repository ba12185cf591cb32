//go:build linux || darwin

package sysmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotal(t *testing.T) {
	n, err := Total()
	require.NoError(t, err)
	assert.Greater(t, n, uint64(16<<20))
}
