package modifiers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/magefree/tactics-server-go/internal/game/effects"
	"github.com/magefree/tactics-server-go/internal/game/rules"
)

const eventUnitMoved rules.EventType = "UNIT_MOVED"

type testUnit struct {
	id         string
	owner      string
	onBoard    bool
	damage     int
	baseAttack int
	ints       map[string]*IntSlot
	bools      map[string]*BoolSlot
	mods       *Manager
}

func (u *testUnit) ID() string                     { return u.id }
func (u *testUnit) IntSlot(name string) *IntSlot   { return u.ints[name] }
func (u *testUnit) BoolSlot(name string) *BoolSlot { return u.bools[name] }
func (u *testUnit) Modifiers() *Manager            { return u.mods }

func (u *testUnit) Attack() int {
	return u.ints["attack"].Evaluate(u.baseAttack, effects.EvalContext{SubjectID: u.id})
}

func (u *testUnit) CanAttack() bool {
	return u.bools["can_attack"].Evaluate(true, effects.EvalContext{SubjectID: u.id})
}

func (u *testUnit) slotRegistrations() int {
	total := 0
	for _, s := range u.ints {
		total += s.Len()
	}
	for _, s := range u.bools {
		total += s.Len()
	}
	return total
}

type testWorld struct {
	units []*testUnit
}

func (w *testWorld) Target(id string) (Target, bool) {
	for _, u := range w.units {
		if u.id == id {
			return u, true
		}
	}
	return nil, false
}

func (w *testWorld) Targets() []Target {
	out := make([]Target, len(w.units))
	for i, u := range w.units {
		out[i] = u
	}
	return out
}

type fixture struct {
	env   *Env
	bus   *rules.EventBus
	world *testWorld
}

func newFixture() *fixture {
	bus := rules.NewEventBus()
	world := &testWorld{}
	seq := 0
	env := &Env{
		Bus:    bus,
		World:  world,
		Logger: zap.NewNop(),
		IDs: IDFunc(func(modifierType string) string {
			seq++
			return fmt.Sprintf("%s-%d", modifierType, seq)
		}),
	}
	return &fixture{env: env, bus: bus, world: world}
}

func (f *fixture) unit(id, owner string, attack int) *testUnit {
	u := &testUnit{
		id:         id,
		owner:      owner,
		onBoard:    true,
		baseAttack: attack,
		ints: map[string]*IntSlot{
			"attack": effects.NewInterceptable[int, effects.EvalContext](),
			"health": effects.NewInterceptable[int, effects.EvalContext](),
		},
		bools: map[string]*BoolSlot{
			"can_attack": effects.NewInterceptable[bool, effects.EvalContext](),
		},
	}
	u.mods = NewManager(f.env, u)
	f.world.units = append(f.world.units, u)
	return u
}

func (f *fixture) publish(eventType rules.EventType) error {
	return f.bus.Publish(context.Background(), rules.NewEvent(eventType, "", "", ""))
}

// spyMixin records lifecycle calls into a shared log.
type spyMixin struct {
	name      string
	log       *[]string
	applied   int
	removed   int
	reapplied   int
	failApply   error
	failReapply error
}

func (s *spyMixin) Kind() Kind { return KindStat }

func (s *spyMixin) OnApplied(context.Context, *Env, Target, *Modifier) error {
	if s.failApply != nil {
		return s.failApply
	}
	s.applied++
	*s.log = append(*s.log, "apply:"+s.name)
	return nil
}

func (s *spyMixin) OnRemoved(context.Context, *Env, Target, *Modifier) error {
	s.removed++
	*s.log = append(*s.log, "remove:"+s.name)
	return nil
}

func (s *spyMixin) OnReapplied(context.Context, *Env, *Modifier) error {
	if s.failReapply != nil {
		return s.failReapply
	}
	s.reapplied++
	*s.log = append(*s.log, "reapply:"+s.name)
	return nil
}

func boardAllies(_ *Env, holder Target, candidate Target) bool {
	h, c := holder.(*testUnit), candidate.(*testUnit)
	return c.onBoard && c.owner == h.owner
}

func isDamaged(_ *Env, target Target, _ effects.EvalContext) bool {
	return target.(*testUnit).damage > 0
}
