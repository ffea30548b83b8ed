package modifiers

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/magefree/tactics-server-go/internal/game/effects"
	"github.com/magefree/tactics-server-go/internal/game/rules"
)

// ErrUnknownType is returned when the catalog has no definition for a modifier type.
var ErrUnknownType = errors.New("unknown modifier type")

// Definition describes one modifier type in the catalog.
type Definition struct {
	Type        string      `yaml:"type"`
	Description string      `yaml:"description,omitempty"`
	Removable   *bool       `yaml:"removable,omitempty"`
	Mixins      []MixinSpec `yaml:"mixins"`
}

// MixinSpec is the serialized configuration of one mixin. Which fields
// apply depends on Kind.
type MixinSpec struct {
	Kind string `yaml:"kind"`

	// stat and flag
	Slot     string `yaml:"slot,omitempty"`
	Op       string `yaml:"op,omitempty"`
	Amount   int    `yaml:"amount,omitempty"`
	PerStack bool   `yaml:"per_stack,omitempty"`
	Value    *bool  `yaml:"value,omitempty"`
	Layer    string `yaml:"layer,omitempty"`
	Offset   int    `yaml:"offset,omitempty"`

	// duration and game_event
	Event         string `yaml:"event,omitempty"`
	Turns         int    `yaml:"turns,omitempty"`
	Filter        string `yaml:"filter,omitempty"`
	Effect        string `yaml:"effect,omitempty"`
	PerPlayerTurn int    `yaml:"per_player_turn,omitempty"`
	PerGameTurn   int    `yaml:"per_game_turn,omitempty"`

	// togglable
	Predicate string     `yaml:"predicate,omitempty"`
	Inner     *MixinSpec `yaml:"inner,omitempty"`

	// aura
	Events   []string    `yaml:"events,omitempty"`
	Eligible string      `yaml:"eligible,omitempty"`
	Nested   *Definition `yaml:"nested,omitempty"`
}

// Registry holds the named domain hooks catalog entries may refer to.
type Registry struct {
	Predicates  map[string]Predicate
	Eligibility map[string]Eligibility
	Filters     map[string]EventFilter
	Effects     map[string]EventEffect
}

type catalogFile struct {
	Modifiers []Definition `yaml:"modifiers"`
}

// Catalog builds modifier instances from YAML definitions.
type Catalog struct {
	registry Registry
	defs     map[string]Definition
	order    []string
}

// LoadCatalog reads and validates a catalog.
func LoadCatalog(r io.Reader, registry Registry) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode modifier catalog: %w", err)
	}

	c := &Catalog{
		registry: registry,
		defs:     make(map[string]Definition, len(file.Modifiers)),
	}
	for _, def := range file.Modifiers {
		if def.Type == "" {
			return nil, fmt.Errorf("modifier catalog: definition without type")
		}
		if _, dup := c.defs[def.Type]; dup {
			return nil, fmt.Errorf("modifier catalog: duplicate type %q", def.Type)
		}
		// building once validates every kind, slot op, layer and hook name
		if _, err := c.build(def, ""); err != nil {
			return nil, fmt.Errorf("modifier catalog: %s: %w", def.Type, err)
		}
		c.defs[def.Type] = def
		c.order = append(c.order, def.Type)
	}
	return c, nil
}

// ParseCatalog is LoadCatalog over an in-memory document.
func ParseCatalog(data []byte, registry Registry) (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(data), registry)
}

// Types returns the defined modifier types in file order.
func (c *Catalog) Types() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Definition returns the definition of modifierType.
func (c *Catalog) Definition(modifierType string) (Definition, bool) {
	def, ok := c.defs[modifierType]
	return def, ok
}

// New constructs a fresh, unapplied modifier of modifierType.
func (c *Catalog) New(modifierType, sourceID string) (*Modifier, error) {
	def, ok := c.defs[modifierType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, modifierType)
	}
	return c.build(def, sourceID)
}

func (c *Catalog) build(def Definition, sourceID string) (*Modifier, error) {
	mixins := make([]Mixin, 0, len(def.Mixins))
	for i, spec := range def.Mixins {
		mixin, err := c.buildMixin(spec)
		if err != nil {
			return nil, fmt.Errorf("mixin %d: %w", i, err)
		}
		mixins = append(mixins, mixin)
	}
	mod := New(def.Type, sourceID, mixins...)
	if def.Removable != nil {
		mod.Removable = *def.Removable
	}
	return mod, nil
}

func (c *Catalog) buildMixin(spec MixinSpec) (Mixin, error) {
	kind, err := ParseKind(spec.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindStat:
		op, err := ParseStatOp(spec.Op)
		if err != nil {
			return nil, err
		}
		priority, err := layerPriority(spec, effects.LayerAdd)
		if err != nil {
			return nil, err
		}
		if spec.Slot == "" {
			return nil, fmt.Errorf("stat mixin requires a slot")
		}
		return &StatMixin{Slot: spec.Slot, Op: op, Amount: spec.Amount, PerStack: spec.PerStack, Priority: priority}, nil

	case KindFlag:
		priority, err := layerPriority(spec, effects.LayerOverride)
		if err != nil {
			return nil, err
		}
		if spec.Slot == "" || spec.Value == nil {
			return nil, fmt.Errorf("flag mixin requires slot and value")
		}
		return &FlagMixin{Slot: spec.Slot, Value: *spec.Value, Priority: priority}, nil

	case KindDuration:
		if spec.Event == "" || spec.Turns <= 0 {
			return nil, fmt.Errorf("duration mixin requires event and positive turns")
		}
		filter, err := lookup(c.registry.Filters, spec.Filter, "filter", true)
		if err != nil {
			return nil, err
		}
		return &DurationMixin{Event: rules.EventType(spec.Event), Turns: spec.Turns, Filter: filter, Priority: DurationPriority}, nil

	case KindTogglable:
		if spec.Inner == nil {
			return nil, fmt.Errorf("togglable mixin requires an inner mixin")
		}
		inner, err := c.buildMixin(*spec.Inner)
		if err != nil {
			return nil, fmt.Errorf("inner: %w", err)
		}
		gateable, ok := inner.(Gateable)
		if !ok {
			return nil, fmt.Errorf("inner mixin %s cannot be toggled", inner.Kind())
		}
		predicate, err := lookup(c.registry.Predicates, spec.Predicate, "predicate", false)
		if err != nil {
			return nil, err
		}
		return &TogglableMixin{Inner: gateable, Predicate: predicate}, nil

	case KindAura:
		if spec.Nested == nil || spec.Nested.Type == "" || len(spec.Events) == 0 {
			return nil, fmt.Errorf("aura mixin requires events and a nested modifier")
		}
		eligible, err := lookup(c.registry.Eligibility, spec.Eligible, "eligibility rule", false)
		if err != nil {
			return nil, err
		}
		nestedDef := *spec.Nested
		if _, err := c.build(nestedDef, ""); err != nil {
			return nil, fmt.Errorf("nested %s: %w", nestedDef.Type, err)
		}
		events := make([]rules.EventType, len(spec.Events))
		for i, e := range spec.Events {
			events[i] = rules.EventType(e)
		}
		return &AuraMixin{
			Events:     events,
			Eligible:   eligible,
			NestedType: nestedDef.Type,
			Nested: func() []Mixin {
				// validated above
				mod, _ := c.build(nestedDef, "")
				return mod.Mixins
			},
		}, nil

	case KindGameEvent:
		if spec.Event == "" {
			return nil, fmt.Errorf("game_event mixin requires an event")
		}
		effect, err := lookup(c.registry.Effects, spec.Effect, "effect", false)
		if err != nil {
			return nil, err
		}
		filter, err := lookup(c.registry.Filters, spec.Filter, "filter", true)
		if err != nil {
			return nil, err
		}
		return &GameEventMixin{
			Event:         rules.EventType(spec.Event),
			Filter:        filter,
			Effect:        effect,
			Amount:        spec.Amount,
			PerPlayerTurn: spec.PerPlayerTurn,
			PerGameTurn:   spec.PerGameTurn,
		}, nil

	default:
		return nil, fmt.Errorf("unhandled mixin kind %s", kind)
	}
}

func layerPriority(spec MixinSpec, fallback effects.Layer) (int, error) {
	layer := fallback
	if spec.Layer != "" {
		parsed, err := effects.ParseLayer(spec.Layer)
		if err != nil {
			return 0, err
		}
		layer = parsed
	}
	return layer.At(spec.Offset), nil
}

func lookup[T any](hooks map[string]T, name, what string, optional bool) (T, error) {
	var zero T
	if name == "" {
		if optional {
			return zero, nil
		}
		return zero, fmt.Errorf("missing %s", what)
	}
	hook, ok := hooks[name]
	if !ok {
		return zero, fmt.Errorf("unknown %s %q", what, name)
	}
	return hook, nil
}
