// Package stats persists the post-game record written when a room reaches
// GameOver. One JSON file per game; nothing else survives process restarts.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PlayerRecord is one roster entry with its revealed role.
type PlayerRecord struct {
	ID         string `json:"id"`
	Number     int    `json:"number"`
	Kind       string `json:"kind"`
	Eliminated bool   `json:"eliminated"`
}

// MessageRecord is one entry of the complete message log.
type MessageRecord struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Round     int       `json:"round"`
}

// Ballot is one cast vote.
type Ballot struct {
	Round  int    `json:"round"`
	Voter  string `json:"voter"`
	Target string `json:"target"`
}

// Record is the full per-game stats dump.
type Record struct {
	RoomCode     string          `json:"roomCode"`
	MaxHumans    int             `json:"maxHumans"`
	TotalPlayers int             `json:"totalPlayers"`
	Topics       []string        `json:"topics"` // indexed by round, Topics[0] is round 1
	StartedAt    time.Time       `json:"startedAt"`
	EndedAt      time.Time       `json:"endedAt"`
	Players      []PlayerRecord  `json:"players"`
	Messages     []MessageRecord `json:"messages"`
	Ballots      []Ballot        `json:"ballots"`
	VoteTotals   map[string]int  `json:"voteTotals"`
	Eliminated   []string        `json:"eliminated"` // in elimination order
	Winner       string          `json:"winner"`
	Rounds       int             `json:"rounds"`
}

// Writer flushes records to a directory.
type Writer struct {
	dir string
}

// NewWriter ensures the stats directory exists.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write persists one record as {roomCode}-{unixSeconds}.json and returns the
// file path. Write is atomic: the record lands under a temp name first.
func (w *Writer) Write(rec Record) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal stats record: %w", err)
	}

	name := fmt.Sprintf("%s-%d.json", rec.RoomCode, rec.EndedAt.Unix())
	path := filepath.Join(w.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write stats file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to finalize stats file: %w", err)
	}
	return path, nil
}

// Read parses a previously written record. Used by tooling and tests.
func Read(path string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("failed to read stats file: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to parse stats file: %w", err)
	}
	return rec, nil
}
