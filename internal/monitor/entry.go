package monitor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one monitored repository.
type Entry struct {
	ID        string
	RepoURL   string
	Secret    string
	Group     string
	CreatedAt time.Time
}

// Path returns the owner/repo identity of the entry, or "" if RepoURL has none.
func (e Entry) Path() string {
	p, err := RepoPath(e.RepoURL)
	if err != nil {
		return ""
	}
	return p
}

// entryJSON is the on-disk shape. Field names match monitors.json files
// written by earlier releases of the relay.
type entryJSON struct {
	ID        string `json:"id,omitempty"`
	RepoURL   string `json:"repo_url"`
	Secret    string `json:"secret"`
	Group     string `json:"group_id"`
	CreatedAt string `json:"created_at"`
}

// document is the persisted monitors file.
type document struct {
	Monitors []Entry `json:"monitors"`
}

// legacy files carry naive local timestamps without a zone.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		ID:        e.ID,
		RepoURL:   e.RepoURL,
		Secret:    e.Secret,
		Group:     e.Group,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	created, err := parseCreatedAt(raw.CreatedAt)
	if err != nil {
		return err
	}
	*e = Entry{
		ID:        raw.ID,
		RepoURL:   raw.RepoURL,
		Secret:    raw.Secret,
		Group:     raw.Group,
		CreatedAt: created,
	}
	return nil
}

func parseCreatedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created_at %q", s)
}
