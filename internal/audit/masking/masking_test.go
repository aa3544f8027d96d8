package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "", MaskValue("  "))
	assert.Equal(t, "****", MaskValue("abc"))
	assert.Equal(t, "****reet", MaskValue("221B Baker Street"))
}

func TestMaskKeys(t *testing.T) {
	in := map[string]any{
		"address":     "221B Baker Street",
		"new_status":  "SHIPPED",
		"nested":      map[string]any{"Address": "1 Main Road"},
		"attempt":     2,
		"   ":         "dropped",
		"description": "kept",
	}

	out := MaskKeys(in, "address")
	assert.Equal(t, "****reet", out["address"])
	assert.Equal(t, "SHIPPED", out["new_status"])
	assert.Equal(t, map[string]any{"Address": "****Road"}, out["nested"])
	assert.Equal(t, 2, out["attempt"])
	assert.NotContains(t, out, "   ")
	assert.Equal(t, "221B Baker Street", in["address"])
}
