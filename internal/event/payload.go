package event

// Wire shapes of the Gitea webhook payloads. Only the fields the relay reads
// are declared.

type userPayload struct {
	Username string `json:"username"`
	Login    string `json:"login"`
	FullName string `json:"full_name"`
}

func (u *userPayload) name() string {
	if u == nil {
		return ""
	}
	switch {
	case u.Username != "":
		return u.Username
	case u.Login != "":
		return u.Login
	default:
		return u.FullName
	}
}

type repositoryPayload struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	CloneURL string `json:"clone_url"`
}

func (r *repositoryPayload) normalize() Repository {
	if r == nil {
		return Repository{}
	}
	return Repository{
		Name:     r.Name,
		FullName: r.FullName,
		HTMLURL:  r.HTMLURL,
		CloneURL: r.CloneURL,
	}
}

type envelope struct {
	Action     string             `json:"action"`
	Repository *repositoryPayload `json:"repository"`
}

type commitPayload struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

type pushPayload struct {
	envelope
	Ref        string          `json:"ref"`
	CompareURL string          `json:"compare_url"`
	Commits    []commitPayload `json:"commits"`
	Pusher     *userPayload    `json:"pusher"`
}

type branchPayload struct {
	Ref string `json:"ref"`
}

type pullRequestPayload struct {
	envelope
	Number      int64 `json:"number"`
	PullRequest *struct {
		Number  int64          `json:"number"`
		Title   string         `json:"title"`
		State   string         `json:"state"`
		Merged  bool           `json:"merged"`
		HTMLURL string         `json:"html_url"`
		User    *userPayload   `json:"user"`
		Head    *branchPayload `json:"head"`
		Base    *branchPayload `json:"base"`
	} `json:"pull_request"`
}

type issuePayload struct {
	envelope
	Issue *struct {
		Number  int64        `json:"number"`
		Title   string       `json:"title"`
		State   string       `json:"state"`
		HTMLURL string       `json:"html_url"`
		User    *userPayload `json:"user"`
	} `json:"issue"`
}
