package skirmish

import (
	"github.com/magefree/tactics-server-go/internal/game/rules"
	"github.com/magefree/tactics-server-go/internal/game/scheduler"
)

// Domain events published by skirmish actions.
const (
	EventUnitPlayed    rules.EventType = "UNIT_PLAYED"
	EventUnitAttacked  rules.EventType = "UNIT_ATTACKED"
	EventUnitDamaged   rules.EventType = "UNIT_DAMAGED"
	EventUnitHealed    rules.EventType = "UNIT_HEALED"
	EventUnitDestroyed rules.EventType = "UNIT_DESTROYED"
	EventCardDrawn     rules.EventType = "CARD_DRAWN"
	EventCardDiscarded rules.EventType = "CARD_DISCARDED"
	EventCardRevealed  rules.EventType = "CARD_REVEALED"
)

// Action types registered with the scheduler.
const (
	ActionStart    = "game.start"
	ActionPlay     = "unit.play"
	ActionAttack   = "unit.attack"
	ActionHeal     = "unit.heal"
	ActionDestroy  = "unit.destroy"
	ActionApply    = "modifier.apply"
	ActionEndTurn  = "turn.end"
	ActionDiscover = "card.discover"
	ActionPick     = "card.pick"
)

// ChoiceCard is the choice card.discover pauses for.
const ChoiceCard scheduler.ChoiceKind = "card_choice"
