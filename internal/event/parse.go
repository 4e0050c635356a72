package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Parse turns an event header and raw body into an Event. It never fails:
// unsupported event types and unreadable JSON come back as KindUnknown.
//
// Fields with the wrong JSON type are skipped rather than failing the whole
// payload, so a single odd field in a Gitea release does not drop a push.
func Parse(eventType string, body []byte) Event {
	typ := strings.ToLower(strings.TrimSpace(eventType))

	switch typ {
	case "push":
		var p pushPayload
		if decode(body, &p) {
			return Event{
				Kind:   KindPush,
				Type:   typ,
				Action: p.Action,
				Repo:   p.Repository.normalize(),
				Push:   p.normalize(),
			}
		}
	case "pull_request":
		var p pullRequestPayload
		if decode(body, &p) {
			return Event{
				Kind:        KindPullRequest,
				Type:        typ,
				Action:      p.Action,
				Repo:        p.Repository.normalize(),
				PullRequest: p.normalize(),
			}
		}
	case "issues", "issue":
		var p issuePayload
		if decode(body, &p) {
			return Event{
				Kind:   KindIssue,
				Type:   typ,
				Action: p.Action,
				Repo:   p.Repository.normalize(),
				Issue:  p.normalize(),
			}
		}
	}

	ev := Event{Kind: KindUnknown, Type: typ}
	var env envelope
	if decode(body, &env) {
		ev.Action = env.Action
		ev.Repo = env.Repository.normalize()
	}
	return ev
}

// ParseRepository reads only the repository block. The webhook handler uses
// it to find the per-repository secret before the signature can be checked.
func ParseRepository(body []byte) Repository {
	var env envelope
	if !decode(body, &env) {
		return Repository{}
	}
	return env.Repository.normalize()
}

// decode reports whether body is a JSON object that could be read into v.
// Type mismatches below the top level are tolerated; the offending field
// keeps its zero value.
func decode(body []byte, v any) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	err := json.Unmarshal(trimmed, v)
	if err == nil {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr) && typeErr.Field != ""
}

func (p *pushPayload) normalize() *Push {
	out := &Push{
		Ref:         p.Ref,
		Branch:      branchName(p.Ref),
		Pusher:      p.Pusher.name(),
		CommitCount: len(p.Commits),
		CompareURL:  p.CompareURL,
	}
	if out.Pusher == "" {
		out.Pusher = "Unknown"
	}
	// Gitea lists the newest commit first.
	if len(p.Commits) > 0 {
		out.HeadMessage = p.Commits[0].Message
	}
	if out.CompareURL == "" && p.Repository != nil {
		out.CompareURL = p.Repository.HTMLURL
	}
	return out
}

func branchName(ref string) string {
	for _, prefix := range []string{"refs/heads/", "refs/tags/"} {
		if strings.HasPrefix(ref, prefix) {
			return strings.TrimPrefix(ref, prefix)
		}
	}
	return ref
}

func (p *pullRequestPayload) normalize() *PullRequest {
	out := &PullRequest{Number: p.Number, State: StateOpen}
	pr := p.PullRequest
	if pr == nil {
		if p.Action == "closed" {
			out.State = StateClosed
		}
		return out
	}

	if out.Number == 0 {
		out.Number = pr.Number
	}
	out.Title = pr.Title
	out.Author = pr.User.name()
	out.URL = pr.HTMLURL
	if pr.Head != nil {
		out.SourceBranch = pr.Head.Ref
	}
	if pr.Base != nil {
		out.TargetBranch = pr.Base.Ref
	}

	switch {
	case pr.Merged:
		out.State = StateMerged
	case strings.EqualFold(pr.State, "closed") || p.Action == "closed":
		out.State = StateClosed
	}
	return out
}

func (p *issuePayload) normalize() *Issue {
	out := &Issue{State: StateOpen}
	is := p.Issue
	if is == nil {
		if p.Action == "closed" {
			out.State = StateClosed
		}
		return out
	}

	out.Number = is.Number
	out.Title = is.Title
	out.Author = is.User.name()
	out.URL = is.HTMLURL
	if strings.EqualFold(is.State, "closed") || p.Action == "closed" {
		out.State = StateClosed
	}
	return out
}
