package monitor

// Match resolves a claimed repository URL to a configured entry by owner/repo
// identity. Host, scheme and port are ignored, so an entry registered under
// an internal address matches a webhook reporting the external one.
//
// When several entries share a path (only possible through out-of-band edits
// of the monitors file) the first one in list order wins.
func Match(claimedURL string, entries []Entry) (Entry, bool) {
	path, err := RepoPath(claimedURL)
	if err != nil {
		return Entry{}, false
	}
	for _, e := range entries {
		if e.Path() == path {
			return e, true
		}
	}
	return Entry{}, false
}
