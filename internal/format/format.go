// Package format renders normalized events as chat messages.
//
// The layouts are a presentation contract: chat users and snapshot tests
// depend on the field order and the leading emoji of each line.
package format

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/gitea-relay/internal/event"
)

// MaxCommitMessage is the rune limit for the commit summary in push messages.
const MaxCommitMessage = 100

// Format returns the message for ev. It is pure and total over event.Kinds().
func Format(ev event.Event) string {
	repo := ev.Repo.DisplayName()

	switch ev.Kind {
	case event.KindPush:
		return formatPush(repo, ev.Push)
	case event.KindPullRequest:
		return formatPullRequest(repo, ev.Action, ev.PullRequest)
	case event.KindIssue:
		return formatIssue(repo, ev.Action, ev.Issue)
	case event.KindUnknown:
		return formatUnknown(repo, ev.Type)
	default:
		panic(fmt.Sprintf("format: unhandled event kind %v", ev.Kind))
	}
}

func formatPush(repo string, p *event.Push) string {
	if p == nil {
		p = &event.Push{}
	}
	return lines(
		fmt.Sprintf("📦 [%s] New push", repo),
		"🌿 Branch: "+or(p.Branch, "unknown"),
		"👤 Pusher: "+or(p.Pusher, "Unknown"),
		fmt.Sprintf("📝 Commits: %d", p.CommitCount),
		"💬 Latest commit: "+or(Summary(p.HeadMessage), "(none)"),
		"🔗 "+or(p.CompareURL, "(no link)"),
	)
}

func formatPullRequest(repo, action string, pr *event.PullRequest) string {
	if pr == nil {
		pr = &event.PullRequest{}
	}
	return lines(
		fmt.Sprintf("🔀 [%s] Pull request #%d %s", repo, pr.Number, or(action, "updated")),
		"📋 Title: "+or(pr.Title, "(untitled)"),
		"👤 Author: "+or(pr.Author, "Unknown"),
		fmt.Sprintf("🎯 Branches: %s → %s", or(pr.SourceBranch, "?"), or(pr.TargetBranch, "?")),
		"✅ State: "+or(string(pr.State), string(event.StateOpen)),
		"🔗 "+or(pr.URL, "(no link)"),
	)
}

func formatIssue(repo, action string, is *event.Issue) string {
	if is == nil {
		is = &event.Issue{}
	}
	return lines(
		fmt.Sprintf("🐛 [%s] Issue #%d %s", repo, is.Number, or(action, "updated")),
		"📋 Title: "+or(is.Title, "(untitled)"),
		"👤 Author: "+or(is.Author, "Unknown"),
		"✅ State: "+or(string(is.State), string(event.StateOpen)),
		"🔗 "+or(is.URL, "(no link)"),
	)
}

func formatUnknown(repo, typ string) string {
	return fmt.Sprintf("❔ [%s] Received unsupported event: %s", repo, or(typ, "unknown"))
}

// Summary returns the first line of a commit message, trimmed and cut to
// MaxCommitMessage runes with a trailing "..." when longer.
func Summary(msg string) string {
	first, _, _ := strings.Cut(msg, "\n")
	first = strings.TrimSpace(first)
	runes := []rune(first)
	if len(runes) <= MaxCommitMessage {
		return first
	}
	return string(runes[:MaxCommitMessage]) + "..."
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}
