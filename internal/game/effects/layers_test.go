package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerPrioritiesOrderBands(t *testing.T) {
	order := Layers()
	require.Len(t, order, 4)
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() <= order[i].Priority() {
			t.Fatalf("layer %s must outrank %s", order[i-1], order[i])
		}
	}

	// offsets never leak into a neighbouring band
	assert.Greater(t, LayerAdd.At(-1000), LayerClamp.At(1000))
	assert.Equal(t, LayerScale.Priority()+3, LayerScale.At(3))
}

func TestLayeredPipelineScalesBeforeAdding(t *testing.T) {
	attack := NewInterceptable[int, EvalContext]()
	attack.Add(func(v int, _ EvalContext) int { return v + 10 }, LayerAdd.Priority())
	attack.Add(func(v int, _ EvalContext) int { return v * 2 }, LayerScale.Priority())
	attack.Add(func(v int, _ EvalContext) int { return min(v, 15) }, LayerClamp.Priority())

	assert.Equal(t, 15, attack.Evaluate(3, EvalContext{}))
}

func TestParseLayer(t *testing.T) {
	layer, err := ParseLayer(" Override ")
	require.NoError(t, err)
	assert.Equal(t, LayerOverride, layer)
	assert.Equal(t, "override", layer.String())

	_, err = ParseLayer("copy")
	assert.Error(t, err)
}

func TestEvalContextTags(t *testing.T) {
	ctx := EvalContext{SubjectID: "u1", OtherID: "u2", Tags: []string{"attacking"}}
	assert.True(t, ctx.HasTag("attacking"))
	assert.False(t, ctx.HasTag("defending"))
}
