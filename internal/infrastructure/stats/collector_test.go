package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Collect(t *testing.T) {
	c := NewCollector(10 * time.Millisecond)

	stats, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.GreaterOrEqual(t, stats.RAMUsage, 0.0)
	assert.LessOrEqual(t, stats.RAMUsage, 100.0)
}
