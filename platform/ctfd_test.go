package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ctfdLoginNonce = "l0g1nn0nce"
	ctfdCSRFNonce  = "aabbccdd0011"
	ctfdGoodFlag   = "CTF{correct}"
)

// ctfdFixture emulates enough of a CTFd deployment for the adapter:
// nonce-gated login, cookie auth, CSRF-guarded submissions and the
// wrapped {success, data} API.
type ctfdFixture struct {
	srv *httptest.Server

	mu          sync.Mutex
	requests    map[string]int
	solved      map[int]bool
	noCSRF      bool
	takenNames  map[string]bool
	solverDates []string
}

func newCTFdFixture(t *testing.T) *ctfdFixture {
	t.Helper()
	f := &ctfdFixture{
		requests:    make(map[string]int),
		solved:      make(map[int]bool),
		takenNames:  map[string]bool{"taken": true},
		solverDates: []string{"2024-03-01T10:00:00Z", "2024-03-01T11:30:00Z"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /plugins/challenges/assets/view.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `CTFd.plugin.run((_CTFd) => {});`)
	})
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "anon"})
		fmt.Fprint(w, noncePage(ctfdLoginNonce))
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("name") == "team" && r.FormValue("password") == "secret" &&
			r.FormValue("nonce") == ctfdLoginNonce {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "authed"})
			http.Redirect(w, r, "/challenges", http.StatusFound)
			return
		}
		fmt.Fprint(w, `<html><body>incorrect credentials</body></html>`)
	})
	mux.HandleFunc("GET /challenges", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		noCSRF := f.noCSRF
		f.mu.Unlock()
		if noCSRF {
			fmt.Fprint(w, `<html><head><script>var init = {};</script></head></html>`)
			return
		}
		fmt.Fprintf(w, `<html><head><script>var init = {'csrfNonce': "%s"};</script></head></html>`, ctfdCSRFNonce)
	})

	mux.HandleFunc("GET /api/v1/challenges", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": 1, "name": "Login Bypass", "category": "web"},
				{"id": 2, "name": "Heapster", "category": "pwn"},
				{"id": 3, "name": "RSA-101", "category": "crypto"},
			},
		})
	}))
	mux.HandleFunc("GET /api/v1/challenges/{id}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		details := map[string]map[string]any{
			"1": {
				"id": 1, "type": "standard", "name": "Login Bypass", "value": 100,
				"solves": 2, "solved_by_me": false, "category": "web",
				"tags":        []any{map[string]any{"value": "web"}, "easy"},
				"description": `<p>Find the flag.</p><img src="/files/hint.png">`,
				"files":       []string{"/files/chall.zip?token=abc"},
			},
			"2": {
				"id": 2, "type": "standard", "name": "Heapster", "value": 300,
				"solves": 1, "solved_by_me": true, "category": "pwn",
				"tags": []any{}, "description": "<p>pwn it</p>",
			},
			"3": {
				"id": 3, "type": "standard", "name": "RSA-101", "value": 200,
				"solves": 0, "solved_by_me": false, "category": "crypto",
				"tags": []any{}, "description": "e is small",
				"connection_info": "nc crypto.example.com 1337",
			},
		}
		detail, ok := details[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"success": false})
			return
		}
		writeJSON(w, map[string]any{"success": true, "data": detail})
	}))
	mux.HandleFunc("POST /api/v1/challenges/attempt", f.authed(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("CSRF-Token") != ctfdCSRFNonce {
			w.WriteHeader(http.StatusForbidden)
			writeJSON(w, map[string]any{"message": "CSRF token missing"})
			return
		}
		var attempt struct {
			ChallengeID int    `json:"challenge_id"`
			Submission  string `json:"submission"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&attempt))
		var status, message string
		switch {
		case attempt.Submission != ctfdGoodFlag:
			status, message = "incorrect", "Incorrect. You have 4 tries remaining."
		default:
			f.mu.Lock()
			if f.solved[attempt.ChallengeID] {
				status, message = "already_solved", "You already solved this"
			} else {
				f.solved[attempt.ChallengeID] = true
				status, message = "correct", "Correct"
			}
			f.mu.Unlock()
		}
		writeJSON(w, map[string]any{
			"success": true,
			"data":    map[string]any{"status": status, "message": message},
		})
	}))
	mux.HandleFunc("GET /api/v1/challenges/{id}/solves", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		dates := f.solverDates
		f.mu.Unlock()
		solvers := []map[string]any{
			{"account_id": 10, "name": "our-team", "date": dates[0]},
			{"account_id": 11, "name": "rivals", "date": dates[1]},
		}
		writeJSON(w, map[string]any{"success": true, "data": solvers})
	}))
	mux.HandleFunc("GET /api/v1/scoreboard", f.authed(func(w http.ResponseWriter, r *http.Request) {
		board := []map[string]any{}
		for i, name := range []string{"alpha", "beta", "gamma", "delta", "omega"} {
			board = append(board, map[string]any{
				"account_id": 100 + i, "name": name, "score": 500 - 100*i,
			})
		}
		writeJSON(w, map[string]any{"success": true, "data": board})
	}))
	mux.HandleFunc("GET /api/v1/teams/me", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success": true,
			"data":    map[string]any{"id": 10, "name": "our-team", "score": 1337},
		})
	}))

	mux.HandleFunc("GET /register", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "anon"})
		fmt.Fprint(w, noncePage(ctfdLoginNonce))
	})
	mux.HandleFunc("POST /register", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		taken := f.takenNames[r.FormValue("name")]
		f.mu.Unlock()
		if taken {
			fmt.Fprint(w, `<html><body><div role="alert"><span>That team name is already taken</span></div></body></html>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "registered"})
		http.Redirect(w, r, "/teams/new", http.StatusFound)
	})
	mux.HandleFunc("GET /teams/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, noncePage(ctfdLoginNonce))
	})
	mux.HandleFunc("POST /teams/new", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/challenges", http.StatusFound)
	})

	f.srv = httptest.NewServer(f.counted(mux))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *ctfdFixture) counted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests[r.URL.Path]++
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *ctfdFixture) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || (c.Value != "authed" && c.Value != "registered") {
			w.WriteHeader(http.StatusForbidden)
			writeJSON(w, map[string]any{"message": "You must be logged in"})
			return
		}
		next(w, r)
	}
}

func (f *ctfdFixture) hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *ctfdFixture) ctx() *Context {
	return NewContext(f.srv.URL, map[string]string{
		"username": "team",
		"password": "secret",
	})
}

func noncePage(nonce string) string {
	return fmt.Sprintf(`<html><body><form method="post">
		<input id="nonce" name="nonce" type="hidden" value="%s">
	</form></body></html>`, nonce)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestCTFdMatchPlatform(t *testing.T) {
	f := newCTFdFixture(t)
	ok, err := CTFd{}.MatchPlatform(context.Background(), f.ctx())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCTFdMatchPlatformRejectsOthers(t *testing.T) {
	other := httptest.NewServer(http.NotFoundHandler())
	defer other.Close()
	ok, err := CTFd{}.MatchPlatform(context.Background(), NewContext(other.URL, nil))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCTFdLogin(t *testing.T) {
	f := newCTFdFixture(t)
	session := CTFd{}.Login(context.Background(), f.ctx())
	require.NotNil(t, session)
	assert.True(t, session.Valid())
	assert.Equal(t, "authed", session.Cookies["session"])
}

func TestCTFdLoginBadCredentials(t *testing.T) {
	f := newCTFdFixture(t)
	pctx := NewContext(f.srv.URL, map[string]string{
		"username": "team",
		"password": "wrong",
	})
	assert.Nil(t, CTFd{}.Login(context.Background(), pctx))
}

func TestCTFdPullChallenges(t *testing.T) {
	f := newCTFdFixture(t)
	pctx := f.ctx()

	var challs []Challenge
	for c, err := range (CTFd{}).PullChallenges(context.Background(), pctx) {
		require.NoError(t, err)
		challs = append(challs, c)
	}
	require.Len(t, challs, 3)

	solved := 0
	for _, c := range challs {
		if c.SolvedByMe {
			solved++
		}
	}
	assert.Equal(t, 1, solved)

	web := challs[0]
	assert.Equal(t, "1", web.ID)
	assert.Equal(t, "web", web.Category)
	assert.Equal(t, 100, web.Value)
	assert.Contains(t, web.Tags, "web")
	assert.Contains(t, web.Tags, "easy")
	assert.NotContains(t, web.Description, "<p>")
	assert.NotContains(t, web.Description, "![")
	require.Len(t, web.Files, 1)
	assert.Equal(t, "chall.zip", web.Files[0].Name)
	assert.Equal(t, f.srv.URL+"/files/chall.zip?token=abc", web.Files[0].URL)
	require.Len(t, web.Images, 1)
	assert.Equal(t, "hint.png", web.Images[0].Name)

	assert.Equal(t, "nc crypto.example.com 1337", challs[2].ConnectionInfo)
}

func TestCTFdPullChallengesLazy(t *testing.T) {
	f := newCTFdFixture(t)
	pctx := f.ctx()

	for _, err := range (CTFd{}).PullChallenges(context.Background(), pctx) {
		require.NoError(t, err)
		break
	}
	detail := f.hits("/api/v1/challenges/1") + f.hits("/api/v1/challenges/2") + f.hits("/api/v1/challenges/3")
	assert.Equal(t, 1, detail)
}

func TestCTFdSubmitFlow(t *testing.T) {
	f := newCTFdFixture(t)
	pctx := f.ctx()

	result, err := CTFd{}.SubmitFlag(context.Background(), pctx, "1", ctfdGoodFlag)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, Correct, result.State)
	assert.True(t, result.IsFirstBlood)

	result, err = CTFd{}.SubmitFlag(context.Background(), pctx, "1", ctfdGoodFlag)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, AlreadySubmitted, result.State)
	assert.False(t, result.IsFirstBlood)
}

func TestCTFdSubmitIncorrectRetries(t *testing.T) {
	f := newCTFdFixture(t)
	result, err := CTFd{}.SubmitFlag(context.Background(), f.ctx(), "1", "CTF{nope}")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, Incorrect, result.State)
	require.NotNil(t, result.Retries)
	assert.Equal(t, 4, result.Retries.Left)
	assert.False(t, result.IsFirstBlood)
}

func TestCTFdSubmitWithoutCSRFToken(t *testing.T) {
	f := newCTFdFixture(t)
	f.mu.Lock()
	f.noCSRF = true
	f.mu.Unlock()

	result, err := CTFd{}.SubmitFlag(context.Background(), f.ctx(), "1", ctfdGoodFlag)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestCTFdSubmitBadChallengeID(t *testing.T) {
	f := newCTFdFixture(t)
	result, err := CTFd{}.SubmitFlag(context.Background(), f.ctx(), "not-a-number", ctfdGoodFlag)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestCTFdPullChallengeSolvers(t *testing.T) {
	f := newCTFdFixture(t)
	pctx := f.ctx()

	var all []ChallengeSolver
	for s, err := range (CTFd{}).PullChallengeSolvers(context.Background(), pctx, "1", 0) {
		require.NoError(t, err)
		all = append(all, s)
	}
	require.Len(t, all, 2)
	assert.Equal(t, "our-team", all[0].Team.Name)
	assert.True(t, all[0].SolvedAt.Before(all[1].SolvedAt))

	var first []ChallengeSolver
	for s, err := range (CTFd{}).PullChallengeSolvers(context.Background(), pctx, "1", 1) {
		require.NoError(t, err)
		first = append(first, s)
	}
	require.Len(t, first, 1)
	assert.Equal(t, all[0].Team.ID, first[0].Team.ID)
}

func TestCTFdPullScoreboard(t *testing.T) {
	f := newCTFdFixture(t)
	pctx := f.ctx()

	var teams []Team
	for team, err := range (CTFd{}).PullScoreboard(context.Background(), pctx, 3) {
		require.NoError(t, err)
		teams = append(teams, team)
	}
	require.Len(t, teams, 3)
	assert.Equal(t, "alpha", teams[0].Name)
	assert.Equal(t, 500, teams[0].Score)
	assert.Greater(t, teams[0].Score, teams[1].Score)
}

func TestCTFdGetMe(t *testing.T) {
	f := newCTFdFixture(t)
	me, err := CTFd{}.GetMe(context.Background(), f.ctx())
	require.NoError(t, err)
	require.NotNil(t, me)
	assert.Equal(t, "10", me.ID)
	assert.Equal(t, "our-team", me.Name)
	assert.Equal(t, 1337, me.Score)
}

func TestCTFdRegister(t *testing.T) {
	f := newCTFdFixture(t)
	pctx := NewContext(f.srv.URL, map[string]string{
		"username": "fresh-team",
		"email":    "fresh@example.com",
		"password": "secret",
	})
	status, err := CTFd{}.Register(context.Background(), pctx)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Success)
	assert.True(t, pctx.Authorized())
}

func TestCTFdRegisterNameTaken(t *testing.T) {
	f := newCTFdFixture(t)
	pctx := NewContext(f.srv.URL, map[string]string{
		"username": "taken",
		"email":    "taken@example.com",
		"password": "secret",
	})
	status, err := CTFd{}.Register(context.Background(), pctx)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.False(t, status.Success)
	assert.Contains(t, status.Message, "already taken")
}

func TestCTFdUnauthenticatedPullsAreEmpty(t *testing.T) {
	f := newCTFdFixture(t)
	pctx := NewContext(f.srv.URL, map[string]string{
		"username": "team",
		"password": "wrong",
	})
	for range (CTFd{}).PullChallenges(context.Background(), pctx) {
		t.Fatal("expected no challenges without a session")
	}
	assert.Equal(t, 0, f.hits("/api/v1/challenges"))
}

func TestCTFdParseSolveTime(t *testing.T) {
	for _, raw := range []string{
		"2024-03-01T10:00:00Z",
		"2024-03-01T10:00:00+00:00",
		"2024-03-01T10:00:00.123456+00:00",
		"2024-03-01T10:00:00",
	} {
		ts := parseCTFdSolveTime(raw)
		assert.Equal(t, 2024, ts.Year(), raw)
	}
	assert.True(t, parseCTFdSolveTime("yesterday").IsZero())
}
