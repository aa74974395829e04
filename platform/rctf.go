package platform

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rw-r-r-0644/ctf-relay/platform/scrape"
)

func init() {
	register(Definition{
		ID:       "rctf",
		Name:     "rCTF",
		Priority: 1,
		Client:   RCTF{},
	})
}

// RCTF talks to rCTF deployments: a bearer token obtained from one JSON
// login call, and responses uniformly tagged with a good/bad `kind` that
// must be checked before trusting the payload.
type RCTF struct{}

// Page size used when a solver pull is unlimited.
const rctfSolvesPage = 100

var rctfSubmitStates = map[string]SubmitState{
	"goodFlag":                  Correct,
	"badNotStarted":             CTFNotStarted,
	"badEnded":                  CTFEnded,
	"badChallenge":              InvalidChallenge,
	"badRateLimit":              RateLimited,
	"badFlag":                   Incorrect,
	"badAlreadySolvedChallenge": AlreadySubmitted,
	"badUnknownUser":            InvalidUser,
}

var rctfRegisterErrors = map[string]string{
	"badRecaptchaCode":         "registration requires solving a captcha",
	"badCtftimeToken":          "invalid ctftime token",
	"badEmail":                 "invalid email",
	"badName":                  "invalid name",
	"badCompetitionNotAllowed": "registration not allowed for this competition",
	"badKnownEmail":            "email already used",
	"badKnownName":             "name already used",
}

// MatchPlatform probes the public leaderboard endpoint, which answers
// with an rCTF kind tag whether or not the CTF has started.
func (RCTF) MatchPlatform(ctx context.Context, pctx *Context) (bool, error) {
	resp, err := send(ctx, apiRequest{
		method: "GET",
		url:    pctx.URL() + "/api/v1/leaderboard/now?limit=0&offset=0",
	})
	if err != nil {
		return false, err
	}
	body, err := readBody(resp)
	if err != nil {
		return false, err
	}
	text := string(body)
	return strings.Contains(text, "badNotStarted") || strings.Contains(text, "goodLeaderboard"), nil
}

// Login trades the team token for a bearer token.
func (RCTF) Login(ctx context.Context, pctx *Context) *Session {
	if pctx.Authorized() {
		return pctx.Session
	}

	resp, err := send(ctx, apiRequest{
		method: "POST",
		url:    pctx.URL() + "/api/v1/auth/login",
		json:   map[string]string{"teamToken": pctx.Arg("teamToken")},
	})
	if err != nil {
		logger.Warn("rctf: login request failed", zap.Error(err))
		return nil
	}
	var payload rctfAuthResponse
	if !decodeResponse(resp, &payload) {
		return nil
	}
	if payload.Kind != "goodLogin" || payload.Data == nil || payload.Data.AuthToken == "" {
		logger.Debug("rctf: login rejected",
			zap.String("kind", payload.Kind), zap.String("message", payload.Message))
		return nil
	}
	return &Session{Token: payload.Data.AuthToken}
}

// SubmitFlag posts the flag and maps the response kind onto a SubmitState.
// rCTF never reports remaining attempts.
func (c RCTF) SubmitFlag(ctx context.Context, pctx *Context, challengeID, flag string) (*SubmittedFlag, error) {
	if !pctx.LoginIfNeeded(ctx, c.Login) {
		return nil, nil
	}

	resp, err := send(ctx, apiRequest{
		method: "POST",
		url:    fmt.Sprintf("%s/api/v1/challs/%s/submit", pctx.URL(), url.PathEscape(challengeID)),
		json:   map[string]string{"flag": flag},
		bearer: pctx.Session.Token,
	})
	if err != nil {
		return nil, err
	}
	var payload rctfEnvelope
	if !decodeResponse(resp, &payload) || !payload.tagged() {
		return nil, nil
	}

	state, ok := rctfSubmitStates[payload.Kind]
	if !ok {
		state = UnknownState
	}
	result := &SubmittedFlag{State: state}

	resolveFirstBlood(ctx, pctx, c, challengeID, result)
	return result, nil
}

// PullChallenges streams the full challenge list; rCTF returns everything
// in one call, details included.
func (c RCTF) PullChallenges(ctx context.Context, pctx *Context) iter.Seq2[Challenge, error] {
	return func(yield func(Challenge, error) bool) {
		if !pctx.LoginIfNeeded(ctx, c.Login) {
			return
		}

		resp, err := send(ctx, apiRequest{
			method: "GET",
			url:    pctx.URL() + "/api/v1/challs",
			bearer: pctx.Session.Token,
		})
		if err != nil {
			yield(Challenge{}, err)
			return
		}
		var payload rctfChallengesResponse
		if !decodeResponse(resp, &payload) || payload.Kind != "goodChallenges" {
			return
		}

		for _, chal := range payload.Data {
			if !yield(chal.convert(pctx.URL()), nil) {
				return
			}
		}
	}
}

// PullScoreboard streams the leaderboard; the limit is passed straight to
// the platform.
func (c RCTF) PullScoreboard(ctx context.Context, pctx *Context, maxEntries int) iter.Seq2[Team, error] {
	return func(yield func(Team, error) bool) {
		if !pctx.LoginIfNeeded(ctx, c.Login) {
			return
		}
		if maxEntries <= 0 {
			maxEntries = 20
		}

		resp, err := send(ctx, apiRequest{
			method: "GET",
			url:    fmt.Sprintf("%s/api/v1/leaderboard/now?limit=%d&offset=0", pctx.URL(), maxEntries),
			bearer: pctx.Session.Token,
		})
		if err != nil {
			yield(Team{}, err)
			return
		}
		var payload rctfLeaderboardResponse
		if !decodeResponse(resp, &payload) || payload.Kind != "goodLeaderboard" || payload.Data == nil {
			return
		}

		for i, team := range payload.Data.Leaderboard {
			if i >= maxEntries {
				return
			}
			if !yield(team.convert(pctx.URL()), nil) {
				return
			}
		}
	}
}

// PullChallengeSolvers streams solvers ascending by solve time. limit=0
// pages through the endpoint until it runs dry.
func (c RCTF) PullChallengeSolvers(ctx context.Context, pctx *Context, challengeID string, limit int) iter.Seq2[ChallengeSolver, error] {
	return func(yield func(ChallengeSolver, error) bool) {
		if !pctx.LoginIfNeeded(ctx, c.Login) {
			return
		}

		offset := 0
		yielded := 0
		for {
			page := limit
			if page <= 0 {
				page = rctfSolvesPage
			}

			resp, err := send(ctx, apiRequest{
				method: "GET",
				url: fmt.Sprintf("%s/api/v1/challs/%s/solves?limit=%d&offset=%d",
					pctx.URL(), url.PathEscape(challengeID), page, offset),
				bearer: pctx.Session.Token,
			})
			if err != nil {
				yield(ChallengeSolver{}, err)
				return
			}
			var payload rctfSolvesResponse
			if !decodeResponse(resp, &payload) || payload.Kind != "goodChallengeSolves" {
				return
			}

			for _, solve := range payload.Data.Solves {
				if !yield(solve.convert(), nil) {
					return
				}
				yielded++
				if limit > 0 && yielded >= limit {
					return
				}
			}

			if limit > 0 || len(payload.Data.Solves) < page {
				return
			}
			offset += page
		}
	}
}

// GetChallenge scans the challenge list for the id; rCTF has no
// single-challenge endpoint. Solved challenges disappear from the list
// for some configurations, so the own team's solve list is the fallback.
func (c RCTF) GetChallenge(ctx context.Context, pctx *Context, challengeID string) (*Challenge, error) {
	for challenge, err := range c.PullChallenges(ctx, pctx) {
		if err != nil {
			return nil, err
		}
		if challenge.ID == challengeID {
			return &challenge, nil
		}
	}

	me, err := c.GetMe(ctx, pctx)
	if err != nil || me == nil {
		return nil, err
	}
	for _, challenge := range me.Solves {
		if challenge.ID == challengeID {
			return &challenge, nil
		}
	}
	return nil, nil
}

// GetMe returns the authenticated team, invite token and solve list
// included.
func (c RCTF) GetMe(ctx context.Context, pctx *Context) (*Team, error) {
	if !pctx.LoginIfNeeded(ctx, c.Login) {
		return nil, nil
	}

	resp, err := send(ctx, apiRequest{
		method: "GET",
		url:    pctx.URL() + "/api/v1/users/me",
		bearer: pctx.Session.Token,
	})
	if err != nil {
		return nil, err
	}
	var payload rctfUserResponse
	if !decodeResponse(resp, &payload) || payload.Kind != "goodUserData" {
		return nil, nil
	}

	team := payload.Data.convert(pctx.URL())
	return &team, nil
}

// Register creates a team; the returned auth token becomes the session
// and the invite handle is read back from the fresh team's profile.
func (c RCTF) Register(ctx context.Context, pctx *Context) (*RegistrationStatus, error) {
	resp, err := send(ctx, apiRequest{
		method: "POST",
		url:    pctx.URL() + "/api/v1/auth/register",
		json: map[string]string{
			"name":  pctx.Arg("username"),
			"email": pctx.Arg("email"),
		},
	})
	if err != nil {
		return nil, err
	}
	var payload rctfAuthResponse
	if !decodeResponse(resp, &payload) || !payload.tagged() {
		return &RegistrationStatus{Success: false, Message: "invalid response from register endpoint"}, nil
	}

	if msg, bad := rctfRegisterErrors[payload.Kind]; bad {
		return &RegistrationStatus{Success: false, Message: msg}, nil
	}
	if payload.Data == nil || payload.Data.AuthToken == "" {
		return &RegistrationStatus{Success: false, Message: payload.Message}, nil
	}

	result := &RegistrationStatus{
		Success: true,
		Message: payload.Message,
		Token:   payload.Data.AuthToken,
	}
	pctx.Session = &Session{Token: result.Token}

	me, err := c.GetMe(ctx, pctx)
	if err != nil {
		return nil, err
	}
	if me == nil {
		result.Success = false
		result.Message = "team lookup failed after registration"
		return result, nil
	}
	result.Invite = me.InviteToken
	return result, nil
}

// rctfEnvelope is the common response framing: a kind tag prefixed good
// or bad plus a human-readable message.
type rctfEnvelope struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// tagged reports whether the kind carries a recognizable good/bad prefix;
// anything else is an internal error page.
func (e rctfEnvelope) tagged() bool {
	return strings.HasPrefix(e.Kind, "good") || strings.HasPrefix(e.Kind, "bad")
}

type rctfFile struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type rctfChallenge struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Points      int        `json:"points"`
	Solves      int        `json:"solves"`
	Author      string     `json:"author"`
	Files       []rctfFile `json:"files"`
}

func (c rctfChallenge) convert(baseURL string) Challenge {
	challenge := Challenge{
		ID:          c.ID,
		Category:    c.Category,
		Name:        c.Name,
		Description: scrape.ToMarkdown(c.Description),
		Value:       c.Points,
		Solves:      c.Solves,
	}
	for _, f := range c.Files {
		challenge.Files = append(challenge.Files, ChallengeFile{
			Name: f.Name,
			URL:  scrape.ResolveURL(f.URL, baseURL),
		})
	}
	for _, img := range scrape.Images(c.Description, baseURL) {
		challenge.Images = append(challenge.Images, ChallengeFile{Name: img.Name, URL: img.URL})
	}
	return challenge
}

type rctfTeam struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Score     int             `json:"score"`
	TeamToken string          `json:"teamToken"`
	Solves    []rctfChallenge `json:"solves"`
}

func (t rctfTeam) convert(baseURL string) Team {
	team := Team{
		ID:          t.ID,
		Name:        t.Name,
		Score:       t.Score,
		InviteToken: t.TeamToken,
	}
	for _, chal := range t.Solves {
		team.Solves = append(team.Solves, chal.convert(baseURL))
	}
	return team
}

type rctfAuthResponse struct {
	rctfEnvelope
	Data *struct {
		AuthToken string `json:"authToken"`
	} `json:"data"`
}

type rctfChallengesResponse struct {
	rctfEnvelope
	Data []rctfChallenge `json:"data"`
}

type rctfLeaderboardResponse struct {
	rctfEnvelope
	Data *struct {
		Total       int        `json:"total"`
		Leaderboard []rctfTeam `json:"leaderboard"`
	} `json:"data"`
}

type rctfSolve struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

func (s rctfSolve) convert() ChallengeSolver {
	return ChallengeSolver{
		Team:     Team{ID: s.UserID, Name: s.UserName},
		SolvedAt: time.UnixMilli(s.CreatedAt).UTC(),
	}
}

type rctfSolvesResponse struct {
	rctfEnvelope
	Data struct {
		Solves []rctfSolve `json:"solves"`
	} `json:"data"`
}

type rctfUserResponse struct {
	rctfEnvelope
	Data rctfTeam `json:"data"`
}
