package effects

import (
	"fmt"
	"slices"
	"strings"
)

// Layer names a priority band for interceptors so rule content can order
// itself by intent instead of raw numbers. Higher layers run first.
type Layer int

const (
	LayerClamp Layer = 1 + iota
	LayerAdd
	LayerScale
	LayerOverride
)

// layerBand is the priority distance between two adjacent layers.
const layerBand = 100

var layerOrder = []Layer{
	LayerOverride,
	LayerScale,
	LayerAdd,
	LayerClamp,
}

var layerNames = map[Layer]string{
	LayerClamp:    "clamp",
	LayerAdd:      "add",
	LayerScale:    "scale",
	LayerOverride: "override",
}

func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Layer(%d)", int(l))
}

// Priority returns the base interceptor priority of the layer.
func (l Layer) Priority() int {
	return int(l) * layerBand
}

// At returns a priority inside the layer's band. Offsets outside
// (-layerBand/2, layerBand/2) are clamped so bands never overlap.
func (l Layer) At(offset int) int {
	limit := layerBand/2 - 1
	offset = max(-limit, min(limit, offset))
	return l.Priority() + offset
}

// Layers returns every layer in evaluation order.
func Layers() []Layer {
	return slices.Clone(layerOrder)
}

// ParseLayer converts a catalog name into a Layer.
func ParseLayer(name string) (Layer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for layer, n := range layerNames {
		if n == name {
			return layer, nil
		}
	}
	return 0, fmt.Errorf("unknown layer %q", name)
}

// EvalContext describes the situation an attribute is read in, for example
// which unit is attacking which. Interceptors must treat it as read-only.
type EvalContext struct {
	SubjectID string
	OtherID   string
	Tags      []string
}

// HasTag reports whether the context carries the provided tag.
func (c EvalContext) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}
