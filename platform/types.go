package platform

import "time"

// Session holds whatever credential material a platform hands back after
// login: a bearer token, a cookie jar, or both. Sessions are replaced
// wholesale on re-login, never merged.
type Session struct {
	Token   string
	Cookies map[string]string
}

// Valid reports whether the session carries anything usable for
// authenticated calls.
func (s *Session) Valid() bool {
	return s != nil && (s.Token != "" || len(s.Cookies) > 0)
}

// ChallengeFile is a challenge attachment or embedded image.
type ChallengeFile struct {
	Name string
	URL  string
}

// Challenge is the platform-independent challenge representation.
// IDs are stored as strings because some platforms use numeric ids and
// others use UUIDs.
type Challenge struct {
	ID             string
	Category       string
	Name           string
	Description    string // markdown, embedded images stripped
	ConnectionInfo string
	Value          int
	Tags           []string
	Files          []ChallengeFile
	Images         []ChallengeFile // images stripped from the description
	Solves         int
	SolvedByMe     bool
	SolvedBy       []ChallengeSolver // ascending by solve time when present
}

// ChallengeSolver records one team's solve of a challenge.
type ChallengeSolver struct {
	Team     Team
	SolvedAt time.Time
}

// Team is a scoreboard or account entry.
type Team struct {
	ID          string
	Name        string
	Score       int
	InviteToken string
	Solves      []Challenge
}

// Same reports whether two teams refer to the same team. Platforms expose
// identity inconsistently across endpoints (numeric account id vs UUID vs
// display name only), so a match on either non-empty id or non-empty name
// counts.
func (t Team) Same(other Team) bool {
	if t.ID != "" && t.ID == other.ID {
		return true
	}
	return t.Name != "" && t.Name == other.Name
}

// SubmitState classifies the outcome of one flag submission.
type SubmitState string

const (
	AlreadySubmitted SubmitState = "already_submitted"
	Incorrect        SubmitState = "incorrect"
	Correct          SubmitState = "correct"
	CTFNotStarted    SubmitState = "ctf_not_started"
	CTFPaused        SubmitState = "ctf_paused"
	CTFEnded         SubmitState = "ctf_ended"
	InvalidChallenge SubmitState = "invalid_challenge"
	InvalidUser      SubmitState = "invalid_user"
	RateLimited      SubmitState = "rate_limited"
	UnknownState     SubmitState = "unknown"
)

// Retries reports attempts remaining on limited-attempt challenges.
// OutOf is zero when the platform doesn't report a total.
type Retries struct {
	Left  int
	OutOf int
}

// SubmittedFlag is the classified result of a flag submission.
type SubmittedFlag struct {
	State        SubmitState
	Retries      *Retries // nil when the platform doesn't expose attempts
	IsFirstBlood bool
}

// RegistrationStatus is the outcome of an account registration attempt.
// Token and Invite are only issued by platforms that hand out credentials
// at registration time.
type RegistrationStatus struct {
	Success bool
	Message string
	Token   string
	Invite  string
}
