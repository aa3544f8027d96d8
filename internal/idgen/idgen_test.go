package idgen

import (
	"testing"

	"github.com/smallbiznis/mealdelivery/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode(t *testing.T) {
	node, err := NewNode(config.Config{SnowflakeNode: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), node.Generate().Node())

	_, err = NewNode(config.Config{SnowflakeNode: 4096})
	assert.Error(t, err)
}
