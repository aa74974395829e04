package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rw-r-r-0644/ctf-relay/platform/scrape"
)

func init() {
	register(Definition{
		ID:       "ctfd",
		Name:     "CTFd",
		Priority: 0,
		Client:   CTFd{},
	})
}

// CTFd talks to CTFd-based platforms: cookie sessions bootstrapped from a
// scraped login nonce, a CSRF token re-scraped from page scripts for every
// state-changing call, and a `{success, data}` JSON envelope.
type CTFd struct{}

var (
	csrfNonceRe   = regexp.MustCompile(`csrfNonce['"]?\s*:\s*['"]([^'"]+)['"]`)
	triesRemainRe = regexp.MustCompile(`Incorrect. You have (\d+) tries remaining`)
)

var ctfdSubmitStates = map[string]SubmitState{
	"paused":         CTFPaused,
	"ratelimited":    RateLimited,
	"incorrect":      Incorrect,
	"correct":        Correct,
	"already_solved": AlreadySubmitted,
}

// MatchPlatform fingerprints the site by fetching a static asset every
// CTFd deployment serves.
func (CTFd) MatchPlatform(ctx context.Context, pctx *Context) (bool, error) {
	resp, err := send(ctx, apiRequest{
		method: "GET",
		url:    pctx.URL() + "/plugins/challenges/assets/view.js",
		accept: "*/*",
	})
	if err != nil {
		return false, err
	}
	body, err := readBody(resp)
	if err != nil {
		return false, err
	}
	return strings.Contains(string(body), "CTFd"), nil
}

// Login scrapes the nonce from the login page, posts the credential form
// and captures the resulting cookies as the session.
func (CTFd) Login(ctx context.Context, pctx *Context) *Session {
	base := pctx.URL()

	resp, err := send(ctx, apiRequest{method: "GET", url: base + "/login", accept: "text/html"})
	if err != nil {
		logger.Warn("ctfd: login page unreachable", zap.Error(err))
		return nil
	}
	cookies := captureCookies(resp, nil)
	page, err := readBody(resp)
	if err != nil {
		logger.Warn("ctfd: login page read failed", zap.Error(err))
		return nil
	}
	nonce := scrape.InputValue(page, "nonce")
	if nonce == "" {
		logger.Warn("ctfd: no login nonce found", zap.String("url", base))
		return nil
	}

	resp, err = send(ctx, apiRequest{
		method: "POST",
		url:    base + "/login",
		form: url.Values{
			"name":     {pctx.Arg("username")},
			"password": {pctx.Arg("password")},
			"_submit":  {"Submit"},
			"nonce":    {nonce},
		},
		cookies: cookies,
		accept:  "text/html",
	})
	if err != nil {
		logger.Warn("ctfd: login request failed", zap.Error(err))
		return nil
	}
	cookies = captureCookies(resp, cookies)
	resp.Body.Close()

	// A successful login redirects; a 200 means the form came back with
	// an error in it.
	if resp.StatusCode != 302 {
		logger.Debug("ctfd: login rejected", zap.Int("status", resp.StatusCode))
		return nil
	}
	return &Session{Cookies: cookies}
}

// SubmitFlag posts to the attempt endpoint, CSRF token attached, and maps
// the platform's status string onto a SubmitState.
func (c CTFd) SubmitFlag(ctx context.Context, pctx *Context, challengeID, flag string) (*SubmittedFlag, error) {
	if !pctx.LoginIfNeeded(ctx, c.Login) {
		return nil, nil
	}

	csrf, err := c.csrfToken(ctx, pctx)
	if err != nil {
		return nil, err
	}
	if csrf == "" {
		logger.Warn("ctfd: no csrf token on submit", zap.String("challenge", challengeID))
		return nil, nil
	}

	numericID, err := strconv.Atoi(challengeID)
	if err != nil {
		logger.Warn("ctfd: non-numeric challenge id", zap.String("challenge", challengeID))
		return nil, nil
	}

	resp, err := send(ctx, apiRequest{
		method: "POST",
		url:    pctx.URL() + "/api/v1/challenges/attempt",
		json: map[string]any{
			"challenge_id": numericID,
			"submission":   flag,
		},
		cookies: pctx.Session.Cookies,
		headers: map[string]string{"CSRF-Token": csrf},
	})
	if err != nil {
		return nil, err
	}

	var payload ctfdSubmitResponse
	if !decodeResponse(resp, &payload) {
		return nil, nil
	}

	state, ok := ctfdSubmitStates[strings.ToLower(payload.Data.Status)]
	if !ok {
		state = UnknownState
	}
	result := &SubmittedFlag{State: state}
	if m := triesRemainRe.FindStringSubmatch(payload.Data.Message); m != nil {
		left, _ := strconv.Atoi(m[1])
		result.Retries = &Retries{Left: left}
	}

	resolveFirstBlood(ctx, pctx, c, challengeID, result)
	return result, nil
}

// PullChallenges is an N+1 walk: the list endpoint omits descriptions,
// files and hints, so every challenge costs one more detail request.
func (c CTFd) PullChallenges(ctx context.Context, pctx *Context) iter.Seq2[Challenge, error] {
	return func(yield func(Challenge, error) bool) {
		if !pctx.LoginIfNeeded(ctx, c.Login) {
			return
		}

		resp, err := send(ctx, apiRequest{
			method:  "GET",
			url:     pctx.URL() + "/api/v1/challenges",
			cookies: pctx.Session.Cookies,
		})
		if err != nil {
			yield(Challenge{}, err)
			return
		}
		body, err := readBody(resp)
		if err != nil {
			yield(Challenge{}, err)
			return
		}

		var payload ctfdListResponse
		if err := json.Unmarshal(body, &payload); err != nil || !payload.Success {
			// Hidden or paused boards answer with a bare message.
			var msg ctfdMessageResponse
			if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
				logger.Warn("ctfd: challenge list unavailable", zap.String("message", msg.Message))
			} else {
				logger.Warn("ctfd: challenge list schema mismatch", zap.Error(err))
			}
			return
		}

		for _, summary := range payload.Data {
			challenge, err := c.GetChallenge(ctx, pctx, strconv.Itoa(summary.ID))
			if err != nil {
				yield(Challenge{}, err)
				return
			}
			if challenge == nil {
				continue
			}
			if !yield(*challenge, nil) {
				return
			}
		}
	}
}

// PullScoreboard streams the ranked scoreboard, truncated to maxEntries.
func (c CTFd) PullScoreboard(ctx context.Context, pctx *Context, maxEntries int) iter.Seq2[Team, error] {
	return func(yield func(Team, error) bool) {
		if !pctx.LoginIfNeeded(ctx, c.Login) {
			return
		}
		if maxEntries <= 0 {
			maxEntries = 20
		}

		resp, err := send(ctx, apiRequest{
			method:  "GET",
			url:     pctx.URL() + "/api/v1/scoreboard",
			cookies: pctx.Session.Cookies,
		})
		if err != nil {
			yield(Team{}, err)
			return
		}
		var payload ctfdScoreboardResponse
		if !decodeResponse(resp, &payload) || !payload.Success {
			return
		}

		for i, entry := range payload.Data {
			if i >= maxEntries {
				return
			}
			if !yield(entry.convert(), nil) {
				return
			}
		}
	}
}

// PullChallengeSolvers streams a challenge's solvers in the platform's
// chronological order. limit=0 returns them all.
func (c CTFd) PullChallengeSolvers(ctx context.Context, pctx *Context, challengeID string, limit int) iter.Seq2[ChallengeSolver, error] {
	return func(yield func(ChallengeSolver, error) bool) {
		if !pctx.LoginIfNeeded(ctx, c.Login) {
			return
		}

		resp, err := send(ctx, apiRequest{
			method:  "GET",
			url:     fmt.Sprintf("%s/api/v1/challenges/%s/solves", pctx.URL(), url.PathEscape(challengeID)),
			cookies: pctx.Session.Cookies,
		})
		if err != nil {
			yield(ChallengeSolver{}, err)
			return
		}
		var payload ctfdSolvesResponse
		if !decodeResponse(resp, &payload) || !payload.Success {
			return
		}

		for i, entry := range payload.Data {
			if limit > 0 && i >= limit {
				return
			}
			if !yield(entry.convert(), nil) {
				return
			}
		}
	}
}

// GetChallenge fetches the detail endpoint for one challenge.
func (c CTFd) GetChallenge(ctx context.Context, pctx *Context, challengeID string) (*Challenge, error) {
	if !pctx.LoginIfNeeded(ctx, c.Login) {
		return nil, nil
	}

	resp, err := send(ctx, apiRequest{
		method:  "GET",
		url:     fmt.Sprintf("%s/api/v1/challenges/%s", pctx.URL(), url.PathEscape(challengeID)),
		cookies: pctx.Session.Cookies,
	})
	if err != nil {
		return nil, err
	}
	var payload ctfdChallengeResponse
	if !decodeResponse(resp, &payload) || !payload.Success {
		return nil, nil
	}

	challenge := payload.Data.convert(pctx.URL())
	return &challenge, nil
}

// GetMe returns the authenticated account's team.
func (c CTFd) GetMe(ctx context.Context, pctx *Context) (*Team, error) {
	if !pctx.LoginIfNeeded(ctx, c.Login) {
		return nil, nil
	}

	resp, err := send(ctx, apiRequest{
		method:  "GET",
		url:     pctx.URL() + "/api/v1/teams/me",
		cookies: pctx.Session.Cookies,
	})
	if err != nil {
		return nil, err
	}
	var payload ctfdUserResponse
	if !decodeResponse(resp, &payload) || !payload.Success {
		return nil, nil
	}

	team := payload.Data.convert()
	return &team, nil
}

// Register creates an account and then a team, each step gated by a fresh
// nonce scraped from the corresponding form page.
func (c CTFd) Register(ctx context.Context, pctx *Context) (*RegistrationStatus, error) {
	if !pctx.HasArgs("username", "email", "password") {
		return &RegistrationStatus{Success: false, Message: "username, email and password are required"}, nil
	}
	base := pctx.URL()

	resp, err := send(ctx, apiRequest{method: "GET", url: base + "/register", accept: "text/html"})
	if err != nil {
		return nil, err
	}
	cookies := captureCookies(resp, nil)
	page, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return &RegistrationStatus{Success: false, Message: "registration might be closed"}, nil
	}
	nonce := scrape.InputValue(page, "nonce")
	if nonce == "" {
		return &RegistrationStatus{Success: false, Message: "no registration nonce found"}, nil
	}

	resp, err = send(ctx, apiRequest{
		method: "POST",
		url:    base + "/register",
		form: url.Values{
			"name":     {pctx.Arg("username")},
			"email":    {pctx.Arg("email")},
			"password": {pctx.Arg("password")},
			"nonce":    {nonce},
			"_submit":  {"Submit"},
		},
		cookies: cookies,
		accept:  "text/html",
	})
	if err != nil {
		return nil, err
	}
	cookies = captureCookies(resp, cookies)
	page, err = readBody(resp)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case 200:
		// The form came back: name or email already taken.
		return &RegistrationStatus{Success: false, Message: alertMessage(page, "registration failure")}, nil
	case 302:
	default:
		return &RegistrationStatus{Success: false, Message: "registration failure"}, nil
	}

	// Account created; now create the team.
	resp, err = send(ctx, apiRequest{method: "GET", url: base + "/teams/new", cookies: cookies, accept: "text/html"})
	if err != nil {
		return nil, err
	}
	cookies = captureCookies(resp, cookies)
	page, err = readBody(resp)
	if err != nil {
		return nil, err
	}
	nonce = scrape.InputValue(page, "nonce")
	if nonce == "" {
		return &RegistrationStatus{Success: false, Message: "couldn't create a team"}, nil
	}

	resp, err = send(ctx, apiRequest{
		method: "POST",
		url:    base + "/teams/new",
		form: url.Values{
			"name":     {pctx.Arg("username")},
			"password": {pctx.Arg("password")},
			"_submit":  {"Create"},
			"nonce":    {nonce},
		},
		cookies: cookies,
		accept:  "text/html",
	})
	if err != nil {
		return nil, err
	}
	cookies = captureCookies(resp, cookies)
	page, err = readBody(resp)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case 200:
		return &RegistrationStatus{Success: false, Message: alertMessage(page, "team name already taken")}, nil
	case 302:
	default:
		return &RegistrationStatus{Success: false, Message: "couldn't create a team"}, nil
	}

	pctx.Session = &Session{Cookies: cookies}
	return &RegistrationStatus{Success: true}, nil
}

// csrfToken re-scrapes the per-session CSRF nonce that CTFd embeds in an
// inline script on every authenticated page.
func (CTFd) csrfToken(ctx context.Context, pctx *Context) (string, error) {
	resp, err := send(ctx, apiRequest{
		method:  "GET",
		url:     pctx.URL() + "/challenges",
		cookies: pctx.Session.Cookies,
		accept:  "text/html",
	})
	if err != nil {
		return "", err
	}
	page, err := readBody(resp)
	if err != nil {
		return "", err
	}
	if m := csrfNonceRe.FindSubmatch(page); m != nil {
		return string(m[1]), nil
	}
	return "", nil
}

func alertMessage(page []byte, fallback string) string {
	if alerts := scrape.Alerts(page); len(alerts) > 0 {
		return strings.Join(alerts, "\n")
	}
	return fallback
}

func parseCTFdSolveTime(value string) time.Time {
	trimmed := strings.TrimSpace(value)
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// ctfdTag decodes CTFd's two tag encodings: a bare string or an object
// with a value field.
type ctfdTag struct {
	Value string
}

func (t *ctfdTag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Value = s
		return nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Value = obj.Value
	return nil
}

type ctfdChallenge struct {
	ID             int       `json:"id"`
	Type           string    `json:"type"`
	Name           string    `json:"name"`
	Value          int       `json:"value"`
	Solves         int       `json:"solves"`
	SolvedByMe     bool      `json:"solved_by_me"`
	Category       string    `json:"category"`
	Tags           []ctfdTag `json:"tags"`
	Description    string    `json:"description"`
	ConnectionInfo string    `json:"connection_info"`
	MaxAttempts    int       `json:"max_attempts"`
	Files          []string  `json:"files"`
}

func (c ctfdChallenge) convert(baseURL string) Challenge {
	challenge := Challenge{
		ID:             strconv.Itoa(c.ID),
		Category:       c.Category,
		Name:           c.Name,
		Description:    scrape.ToMarkdown(c.Description),
		ConnectionInfo: c.ConnectionInfo,
		Value:          c.Value,
		Solves:         c.Solves,
		SolvedByMe:     c.SolvedByMe,
	}
	for _, tag := range c.Tags {
		challenge.Tags = append(challenge.Tags, tag.Value)
	}
	for _, ref := range c.Files {
		if ref == "" {
			continue
		}
		a := scrape.ParseAttachment(ref, baseURL)
		challenge.Files = append(challenge.Files, ChallengeFile{Name: a.Name, URL: a.URL})
	}
	for _, img := range scrape.Images(c.Description, baseURL) {
		challenge.Images = append(challenge.Images, ChallengeFile{Name: img.Name, URL: img.URL})
	}
	return challenge
}

type ctfdListSummary struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type ctfdListResponse struct {
	Success bool              `json:"success"`
	Data    []ctfdListSummary `json:"data"`
}

type ctfdChallengeResponse struct {
	Success bool          `json:"success"`
	Data    ctfdChallenge `json:"data"`
}

type ctfdMessageResponse struct {
	Message string `json:"message"`
}

type ctfdSubmitResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
}

type ctfdSolver struct {
	AccountID int    `json:"account_id"`
	Name      string `json:"name"`
	Date      string `json:"date"`
}

func (s ctfdSolver) convert() ChallengeSolver {
	return ChallengeSolver{
		Team:     Team{ID: strconv.Itoa(s.AccountID), Name: s.Name},
		SolvedAt: parseCTFdSolveTime(s.Date),
	}
}

type ctfdSolvesResponse struct {
	Success bool         `json:"success"`
	Data    []ctfdSolver `json:"data"`
}

type ctfdScoreboardEntry struct {
	Pos       int    `json:"pos"`
	AccountID int    `json:"account_id"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
}

func (e ctfdScoreboardEntry) convert() Team {
	return Team{ID: strconv.Itoa(e.AccountID), Name: e.Name, Score: e.Score}
}

type ctfdScoreboardResponse struct {
	Success bool                  `json:"success"`
	Data    []ctfdScoreboardEntry `json:"data"`
}

type ctfdUser struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

func (u ctfdUser) convert() Team {
	return Team{ID: strconv.Itoa(u.ID), Name: u.Name, Score: u.Score}
}

type ctfdUserResponse struct {
	Success bool     `json:"success"`
	Data    ctfdUser `json:"data"`
}
