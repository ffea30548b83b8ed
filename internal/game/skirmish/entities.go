package skirmish

import (
	"github.com/magefree/tactics-server-go/internal/game/effects"
	"github.com/magefree/tactics-server-go/internal/game/modifiers"
)

// Slot names entities declare for modifiers.
const (
	SlotAttack    = "attack"
	SlotHealth    = "health"
	SlotCost      = "cost"
	SlotCanAttack = "can_attack"
	SlotIncome    = "income"
)

// Evaluation tags describing a unit's situation.
const (
	TagDamaged   = "damaged"
	TagExhausted = "exhausted"
)

// Zone is where a unit currently is.
type Zone string

const (
	ZoneDeck      Zone = "deck"
	ZoneHand      Zone = "hand"
	ZoneBoard     Zone = "board"
	ZoneGraveyard Zone = "graveyard"
)

// hidden reports whether the zone's contents are private to the owner.
func (z Zone) hidden() bool {
	return z == ZoneDeck || z == ZoneHand
}

// Stats are a unit's printed values before modifiers.
type Stats struct {
	Attack int `json:"attack"`
	Health int `json:"health"`
	Cost   int `json:"cost"`
}

// Unit is a card that can be played to the board and fight.
type Unit struct {
	id        string
	name      string
	owner     string
	zone      Zone
	base      Stats
	damage    int
	exhausted bool

	ints      map[string]*modifiers.IntSlot
	canAttack *modifiers.BoolSlot
	mods      *modifiers.Manager
}

func newUnit(env *modifiers.Env, id, name, owner string, base Stats) *Unit {
	u := &Unit{
		id:    id,
		name:  name,
		owner: owner,
		zone:  ZoneDeck,
		base:  base,
		ints: map[string]*modifiers.IntSlot{
			SlotAttack: effects.NewInterceptable[int, effects.EvalContext](),
			SlotHealth: effects.NewInterceptable[int, effects.EvalContext](),
			SlotCost:   effects.NewInterceptable[int, effects.EvalContext](),
		},
		canAttack: effects.NewInterceptable[bool, effects.EvalContext](),
	}
	// printed values never drop below zero
	for _, slot := range u.ints {
		slot.Add(func(v int, _ effects.EvalContext) int { return max(0, v) }, effects.LayerClamp.Priority())
	}
	u.mods = modifiers.NewManager(env, u)
	return u
}

func (u *Unit) ID() string { return u.id }

func (u *Unit) IntSlot(name string) *modifiers.IntSlot { return u.ints[name] }

func (u *Unit) BoolSlot(name string) *modifiers.BoolSlot {
	if name == SlotCanAttack {
		return u.canAttack
	}
	return nil
}

func (u *Unit) Modifiers() *modifiers.Manager { return u.mods }

func (u *Unit) Name() string { return u.name }

func (u *Unit) Owner() string { return u.owner }

func (u *Unit) Zone() Zone { return u.zone }

func (u *Unit) Damage() int { return u.damage }

// Base returns the printed stats.
func (u *Unit) Base() Stats { return u.base }

// Exhausted reports whether the unit already acted this turn.
func (u *Unit) Exhausted() bool { return u.exhausted }

func (u *Unit) evalContext(other string) effects.EvalContext {
	ec := effects.EvalContext{SubjectID: u.id, OtherID: other, Tags: []string{string(u.zone)}}
	if u.damage > 0 {
		ec.Tags = append(ec.Tags, TagDamaged)
	}
	if u.exhausted {
		ec.Tags = append(ec.Tags, TagExhausted)
	}
	return ec
}

// Attack returns the effective attack against other, which may be empty.
func (u *Unit) Attack(other string) int {
	return u.ints[SlotAttack].Evaluate(u.base.Attack, u.evalContext(other))
}

// Health returns the effective maximum health.
func (u *Unit) Health() int {
	return u.ints[SlotHealth].Evaluate(u.base.Health, u.evalContext(""))
}

// Remaining returns health left after damage.
func (u *Unit) Remaining() int {
	return u.Health() - u.damage
}

// Cost returns the effective mana cost.
func (u *Unit) Cost() int {
	return u.ints[SlotCost].Evaluate(u.base.Cost, u.evalContext(""))
}

// CanAttack reports whether the unit may attack now.
func (u *Unit) CanAttack() bool {
	return u.canAttack.Evaluate(u.zone == ZoneBoard && !u.exhausted, u.evalContext(""))
}

func (u *Unit) serialize() map[string]any {
	return map[string]any{
		"kind":       "unit",
		"name":       u.name,
		"owner":      u.owner,
		"zone":       string(u.zone),
		"attack":     u.Attack(""),
		"health":     u.Health(),
		"cost":       u.Cost(),
		"damage":     u.damage,
		"exhausted":  u.exhausted,
		"can_attack": u.CanAttack(),
		"modifiers":  serializeModifiers(u.mods),
	}
}

// Player owns a deck, a hand and a mana pool.
type Player struct {
	id      string
	mana    int
	maxMana int
	hand    []string
	deck    []string

	income *modifiers.IntSlot
	mods   *modifiers.Manager
}

func newPlayer(env *modifiers.Env, id string) *Player {
	p := &Player{
		id:     id,
		income: effects.NewInterceptable[int, effects.EvalContext](),
	}
	p.mods = modifiers.NewManager(env, p)
	return p
}

func (p *Player) ID() string { return p.id }

func (p *Player) IntSlot(name string) *modifiers.IntSlot {
	if name == SlotIncome {
		return p.income
	}
	return nil
}

func (p *Player) BoolSlot(string) *modifiers.BoolSlot { return nil }

func (p *Player) Modifiers() *modifiers.Manager { return p.mods }

func (p *Player) Mana() int { return p.mana }

func (p *Player) MaxMana() int { return p.maxMana }

// Hand returns the ids of the units in hand.
func (p *Player) Hand() []string { return append([]string(nil), p.hand...) }

// DeckSize returns the number of units left to draw.
func (p *Player) DeckSize() int { return len(p.deck) }

// Income returns how much maximum mana the player gains per turn.
func (p *Player) Income() int {
	return p.income.Evaluate(baseIncome, effects.EvalContext{SubjectID: p.id})
}

func (p *Player) serialize() map[string]any {
	hand := make([]any, len(p.hand))
	for i, id := range p.hand {
		hand[i] = id
	}
	return map[string]any{
		"kind":      "player",
		"mana":      p.mana,
		"max_mana":  p.maxMana,
		"income":    p.Income(),
		"hand":      hand,
		"deck_size": len(p.deck),
		"modifiers": serializeModifiers(p.mods),
	}
}

func serializeModifiers(m *modifiers.Manager) []any {
	list := m.List()
	out := make([]any, len(list))
	for i, mod := range list {
		out[i] = mod.Serialize()
	}
	return out
}

// ownerOf returns the player a target belongs to.
func ownerOf(t modifiers.Target) string {
	switch v := t.(type) {
	case *Unit:
		return v.owner
	case *Player:
		return v.id
	default:
		return ""
	}
}

func removeID(ids []string, id string) ([]string, bool) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...), true
		}
	}
	return ids, false
}
