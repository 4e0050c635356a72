// Package event narrows raw Gitea webhook payloads into a typed, kind-tagged
// Event. Downstream code never looks at the raw JSON again.
package event

import "fmt"

// Kind identifies which per-kind payload an Event carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindPush
	KindPullRequest
	KindIssue
)

// Kinds returns every Kind, in declaration order.
func Kinds() []Kind {
	return []Kind{KindUnknown, KindPush, KindPullRequest, KindIssue}
}

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindPush:
		return "push"
	case KindPullRequest:
		return "pull_request"
	case KindIssue:
		return "issues"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is the open/closed/merged state of a pull request or issue.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
	StateMerged State = "merged"
)

// Repository is the repository block common to every Gitea payload.
type Repository struct {
	Name     string
	FullName string
	HTMLURL  string
	CloneURL string
}

// URL returns the best available identity for repository matching:
// html_url, then clone_url, then full_name.
func (r Repository) URL() string {
	switch {
	case r.HTMLURL != "":
		return r.HTMLURL
	case r.CloneURL != "":
		return r.CloneURL
	default:
		return r.FullName
	}
}

// DisplayName is the human label used in messages.
func (r Repository) DisplayName() string {
	switch {
	case r.FullName != "":
		return r.FullName
	case r.Name != "":
		return r.Name
	default:
		return "unknown"
	}
}

type Push struct {
	Ref         string
	Branch      string
	Pusher      string
	CommitCount int
	HeadMessage string
	CompareURL  string
}

type PullRequest struct {
	Number       int64
	Title        string
	Author       string
	SourceBranch string
	TargetBranch string
	State        State
	URL          string
}

type Issue struct {
	Number int64
	Title  string
	Author string
	State  State
	URL    string
}

// Event is a normalized webhook event. For KindPush, KindPullRequest and
// KindIssue exactly the matching pointer is non-nil; for KindUnknown all
// three are nil.
type Event struct {
	Kind Kind
	// Type is the lowercased event header as received, e.g. "release".
	Type   string
	Action string
	Repo   Repository

	Push        *Push
	PullRequest *PullRequest
	Issue       *Issue
}
