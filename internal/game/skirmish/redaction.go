package skirmish

import "github.com/magefree/tactics-server-go/internal/game/rules"

// Redact implements snapshot.Redactor. Units in another player's deck or
// hand are reduced to their owner and zone unless revealed since the last
// turn start.
func (g *Game) Redact(viewer, _ string, fields map[string]any, revealed bool) (map[string]any, bool) {
	if fields["kind"] != "unit" {
		return fields, true
	}
	owner, _ := fields["owner"].(string)
	zone, _ := fields["zone"].(string)
	if owner == viewer || revealed || !Zone(zone).hidden() {
		return fields, true
	}
	return map[string]any{
		"kind":   "unit",
		"owner":  owner,
		"zone":   zone,
		"hidden": true,
	}, true
}

// RedactEvent implements snapshot.EventRedactor: other players see that
// a card was drawn, not which one.
func (g *Game) RedactEvent(viewer string, event map[string]any) (map[string]any, bool) {
	if event["type"] != string(EventCardDrawn) || event["player_id"] == viewer {
		return event, true
	}
	out := make(map[string]any, len(event))
	for k, v := range event {
		if k != "target_id" {
			out[k] = v
		}
	}
	return out, true
}

// Reveals implements snapshot.Revealer. Playing, discarding or revealing a
// card shows it to everyone until the next turn starts.
func (g *Game) Reveals(event rules.Event) []string {
	switch event.Type {
	case EventUnitPlayed, EventCardDiscarded, EventCardRevealed:
		if event.TargetID != "" {
			return []string{event.TargetID}
		}
	}
	return nil
}
