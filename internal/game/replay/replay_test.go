package replay

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/magefree/tactics-server-go/internal/game/scheduler"
	"github.com/magefree/tactics-server-go/internal/game/snapshot"
)

type setup struct {
	Players  []string `json:"players"`
	DeckSize int      `json:"deck_size"`
}

func testArchive(t *testing.T) *Archive {
	t.Helper()
	play, err := scheduler.NewAction("unit.play", map[string]string{"unit": "u01"})
	require.NoError(t, err)
	a, err := New("game-1", 42, setup{Players: []string{"p1", "p2"}, DeckSize: 12}, []scheduler.Action{
		{Type: "game.start"},
		play,
	})
	require.NoError(t, err)
	a.Checksum = "abc"
	return a
}

func TestArchiveSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	a := testArchive(t)

	path, err := a.SaveToFile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "game-1.replay"), path)

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "game-1", loaded.GameID)
	assert.Equal(t, uint64(42), loaded.Seed)
	assert.Equal(t, "abc", loaded.Checksum)
	require.Len(t, loaded.Actions, 2)
	assert.Equal(t, "unit.play", loaded.Actions[1].Type)
	assert.JSONEq(t, `{"unit":"u01"}`, string(loaded.Actions[1].Payload))

	var s setup
	require.NoError(t, loaded.DecodeSetup(&s))
	assert.Equal(t, setup{Players: []string{"p1", "p2"}, DeckSize: 12}, s)
}

func TestArchiveRejectsOtherVersions(t *testing.T) {
	a := testArchive(t)
	a.Version = 99
	var buf bytes.Buffer
	require.NoError(t, a.Write(&buf))

	_, err := Read(&buf)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestArchiveRejectsPlainJSON(t *testing.T) {
	_, err := Read(bytes.NewBufferString(`{"version":1}`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.replay"))
	assert.Error(t, err)
}

func TestArchiveWithoutSetup(t *testing.T) {
	a, err := New("g", 1, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, a.Actions)
	var s setup
	assert.Error(t, a.DecodeSetup(&s))
}

func testSnapshots() []*snapshot.Snapshot {
	return []*snapshot.Snapshot{
		{ID: 1, State: snapshot.State{"u1": {"attack": 2}}},
		{ID: 2, State: snapshot.State{"u1": {"attack": 5}}, Events: []map[string]any{{"type": "MODIFIER_APPLIED"}}},
		{ID: 3, State: snapshot.State{"u1": {"attack": 5}, "u2": {"attack": 1}}},
	}
}

func TestSessionNavigation(t *testing.T) {
	s := NewSession("g", testSnapshots(), zaptest.NewLogger(t))
	assert.Equal(t, 3, s.Size())

	assert.Nil(t, s.Previous())
	assert.Equal(t, uint64(1), s.Next().ID)
	assert.Equal(t, uint64(2), s.Next().ID)
	assert.Equal(t, uint64(2), s.Previous().ID)
	assert.Equal(t, uint64(3), s.Skip(5).ID, "skip clamps to the last snapshot")
	assert.Equal(t, uint64(1), s.Skip(-10).ID)

	s.Start()
	for i := 0; i < 3; i++ {
		require.NotNil(t, s.Next())
	}
	assert.Nil(t, s.Next())
	assert.Nil(t, s.At(3))
	assert.Equal(t, uint64(2), s.At(1).ID)
}

func TestSessionDiffAt(t *testing.T) {
	s := NewSession("g", testSnapshots(), nil)

	first := s.DiffAt(0)
	require.NotNil(t, first)
	assert.Equal(t, map[string]map[string]any{"u1": {"attack": 2}}, first.Added)

	second := s.DiffAt(1)
	assert.Equal(t, uint64(1), second.From)
	assert.Equal(t, uint64(2), second.To)
	assert.Equal(t, map[string]map[string]any{"u1": {"attack": 5}}, second.Changed)
	assert.Len(t, second.Events, 1)

	third := s.DiffAt(2)
	assert.Empty(t, third.Changed)
	assert.Contains(t, third.Added, "u2")

	assert.Nil(t, s.DiffAt(7))
}
