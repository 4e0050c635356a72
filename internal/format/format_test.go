package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/gitea-relay/internal/event"
)

func TestFormat_Push(t *testing.T) {
	ev := event.Event{
		Kind: event.KindPush,
		Type: "push",
		Repo: event.Repository{FullName: "alice/app"},
		Push: &event.Push{
			Branch:      "main",
			Pusher:      "alice",
			CommitCount: 1,
			HeadMessage: "fix bug\n\nDetails here",
			CompareURL:  "https://ext.example.com/alice/app/compare/a...b",
		},
	}

	want := "📦 [alice/app] New push\n" +
		"🌿 Branch: main\n" +
		"👤 Pusher: alice\n" +
		"📝 Commits: 1\n" +
		"💬 Latest commit: fix bug\n" +
		"🔗 https://ext.example.com/alice/app/compare/a...b"
	assert.Equal(t, want, Format(ev))
}

func TestFormat_PullRequest(t *testing.T) {
	ev := event.Event{
		Kind:   event.KindPullRequest,
		Action: "opened",
		Repo:   event.Repository{FullName: "alice/app"},
		PullRequest: &event.PullRequest{
			Number:       7,
			Title:        "Add login",
			Author:       "bob",
			SourceBranch: "feature/login",
			TargetBranch: "main",
			State:        event.StateOpen,
			URL:          "https://h/alice/app/pulls/7",
		},
	}

	want := "🔀 [alice/app] Pull request #7 opened\n" +
		"📋 Title: Add login\n" +
		"👤 Author: bob\n" +
		"🎯 Branches: feature/login → main\n" +
		"✅ State: open\n" +
		"🔗 https://h/alice/app/pulls/7"
	assert.Equal(t, want, Format(ev))
}

func TestFormat_Issue(t *testing.T) {
	ev := event.Event{
		Kind:   event.KindIssue,
		Action: "closed",
		Repo:   event.Repository{FullName: "alice/app"},
		Issue: &event.Issue{
			Number: 3,
			Title:  "Crash on start",
			Author: "carol",
			State:  event.StateClosed,
			URL:    "https://h/alice/app/issues/3",
		},
	}

	want := "🐛 [alice/app] Issue #3 closed\n" +
		"📋 Title: Crash on start\n" +
		"👤 Author: carol\n" +
		"✅ State: closed\n" +
		"🔗 https://h/alice/app/issues/3"
	assert.Equal(t, want, Format(ev))
}

func TestFormat_Unknown(t *testing.T) {
	ev := event.Event{Kind: event.KindUnknown, Type: "release", Repo: event.Repository{FullName: "alice/app"}}
	assert.Equal(t, "❔ [alice/app] Received unsupported event: release", Format(ev))

	assert.Equal(t, "❔ [unknown] Received unsupported event: unknown", Format(event.Event{}))
}

func TestFormat_TotalOverKinds(t *testing.T) {
	for _, k := range event.Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			// zero payloads must still render every line
			ev := event.Event{Kind: k}
			var out string
			assert.NotPanics(t, func() { out = Format(ev) })
			assert.NotEmpty(t, out)
			assert.Equal(t, out, Format(ev), "format must be deterministic")
		})
	}
}

func TestFormat_DefaultsForMissingFields(t *testing.T) {
	out := Format(event.Event{Kind: event.KindPush, Push: &event.Push{}})
	assert.Len(t, strings.Split(out, "\n"), 6)
	assert.Contains(t, out, "🌿 Branch: unknown")
	assert.Contains(t, out, "👤 Pusher: Unknown")
	assert.Contains(t, out, "📝 Commits: 0")
	assert.Contains(t, out, "💬 Latest commit: (none)")

	out = Format(event.Event{Kind: event.KindPullRequest})
	assert.Len(t, strings.Split(out, "\n"), 6)
	assert.Contains(t, out, "🎯 Branches: ? → ?")
	assert.Contains(t, out, "✅ State: open")

	out = Format(event.Event{Kind: event.KindIssue})
	assert.Len(t, strings.Split(out, "\n"), 5)
	assert.Contains(t, out, "Issue #0 updated")
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"single line", "fix bug", "fix bug"},
		{"multi line", "fix bug\nmore", "fix bug"},
		{"crlf", "fix bug\r\nmore", "fix bug"},
		{"exactly limit", strings.Repeat("a", 100), strings.Repeat("a", 100)},
		{"over limit", strings.Repeat("a", 101), strings.Repeat("a", 100) + "..."},
		{"runes not bytes", strings.Repeat("修", 101), strings.Repeat("修", 100) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summary(tt.in))
		})
	}
}
