// Package replay stores recorded games on disk and navigates the
// snapshots a replayed game produces.
package replay

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/magefree/tactics-server-go/internal/game/scheduler"
)

// FormatVersion is the archive layout written by this package.
const FormatVersion = 1

// FileExt is the extension of archive files.
const FileExt = ".replay"

// ErrUnsupportedVersion is returned for archives written by an incompatible version.
var ErrUnsupportedVersion = errors.New("unsupported replay version")

// Archive is everything needed to rebuild a game: the setup it was created
// with and the history its scheduler recorded.
type Archive struct {
	Version  int                `json:"version"`
	GameID   string             `json:"game_id"`
	Seed     uint64             `json:"seed"`
	Recorded time.Time          `json:"recorded"`
	Setup    json.RawMessage    `json:"setup,omitempty"`
	Actions  []scheduler.Action `json:"actions"`
	// Checksum is the state checksum of the last snapshot when the game was saved.
	Checksum string `json:"checksum,omitempty"`
}

// New constructs an archive for a game. setup is the domain configuration
// encoded as JSON; it may be nil.
func New(gameID string, seed uint64, setup any, actions []scheduler.Action) (*Archive, error) {
	a := &Archive{
		Version:  FormatVersion,
		GameID:   gameID,
		Seed:     seed,
		Recorded: time.Now().UTC(),
		Actions:  actions,
	}
	if a.Actions == nil {
		a.Actions = []scheduler.Action{}
	}
	if setup != nil {
		raw, err := json.Marshal(setup)
		if err != nil {
			return nil, fmt.Errorf("encode replay setup: %w", err)
		}
		a.Setup = raw
	}
	return a, nil
}

// DecodeSetup unmarshals the stored setup into v.
func (a *Archive) DecodeSetup(v any) error {
	if len(a.Setup) == 0 {
		return fmt.Errorf("replay %s has no setup", a.GameID)
	}
	if err := json.Unmarshal(a.Setup, v); err != nil {
		return fmt.Errorf("decode replay setup: %w", err)
	}
	return nil
}

// Write encodes the archive as gzipped JSON.
func (a *Archive) Write(w io.Writer) error {
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(a); err != nil {
		gz.Close()
		return fmt.Errorf("encode replay: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flush replay: %w", err)
	}
	return nil
}

// Read decodes an archive written by Write.
func Read(r io.Reader) (*Archive, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var a Archive
	if err := json.NewDecoder(gz).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode replay: %w", err)
	}
	if a.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, a.Version)
	}
	return &a, nil
}

// SaveToFile writes the archive to <directory>/<game id>.replay and returns the path.
func (a *Archive) SaveToFile(directory string) (string, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	path := filepath.Join(directory, a.GameID+FileExt)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if err := a.Write(file); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return path, nil
}

// LoadFromFile reads an archive from path.
func LoadFromFile(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return Read(file)
}
