package skirmish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewerSeesOnlyWhatWasRevealed(t *testing.T) {
	g := newTestGame(t)
	startGame(t, g)
	ctx := context.Background()
	secret := place(t, g, "p1", ZoneHand, Stats{Attack: 1, Health: 1, Cost: 1})
	var deck []*Unit
	for i := 0; i < 3; i++ {
		deck = append(deck, place(t, g, "p1", ZoneDeck, Stats{Attack: 1, Health: 1, Cost: 1}))
	}
	board := place(t, g, "p1", ZoneBoard, Stats{Attack: 1, Health: 1})

	require.NoError(t, g.Dispatch(ctx, ActionDiscover, PlayerPayload{Player: "p1"}))
	require.NoError(t, g.Dispatch(ctx, ActionPick, PickPayload{Unit: deck[0].ID()}))

	theirs, err := g.Snapshots().BuildForViewer("p2")
	require.NoError(t, err)
	assert.Equal(t, true, theirs.State[secret.ID()]["hidden"])
	assert.NotContains(t, theirs.State[secret.ID()], "name")
	assert.Equal(t, true, theirs.State[deck[1].ID()]["hidden"])
	assert.Equal(t, "Footman", theirs.State[deck[0].ID()]["name"], "the picked card was revealed")
	assert.Equal(t, "Footman", theirs.State[board.ID()]["name"])

	mine, err := g.Snapshots().BuildForViewer("p1")
	require.NoError(t, err)
	assert.Equal(t, "Footman", mine.State[secret.ID()]["name"])
	assert.NotEqual(t, theirs.Checksum, mine.Checksum)

	drawn := func(events []map[string]any) map[string]any {
		for _, e := range events {
			if e["type"] == string(EventCardDrawn) {
				return e
			}
		}
		return nil
	}
	require.NotNil(t, drawn(theirs.Events))
	assert.NotContains(t, drawn(theirs.Events), "target_id")
	assert.Equal(t, deck[0].ID(), drawn(mine.Events)["target_id"])

	// reveals last until the next turn starts
	endTurn(t, g)
	later, err := g.Snapshots().BuildForViewer("p2")
	require.NoError(t, err)
	assert.Equal(t, true, later.State[deck[0].ID()]["hidden"])
}
