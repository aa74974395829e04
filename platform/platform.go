// Package platform provides a uniform client abstraction over third-party
// CTF scoring platforms. Concrete adapters (CTFd, rCTF) implement the
// Client interface against each platform's wire protocol; MatchPlatform
// fingerprints an arbitrary site and picks the adapter that claims it.
package platform

import (
	"context"
	"iter"
	"sort"

	"go.uber.org/zap"
)

// Client is the capability contract every platform adapter satisfies.
//
// All operations take the caller's Context; a single Context must not be
// used by two concurrently in-flight operations. Transport failures are
// returned as errors so callers can tell "platform answered no" from
// "could not ask"; structurally unexpected response bodies yield nil/empty
// results with a nil error.
type Client interface {
	// MatchPlatform is a cheap, side-effect-free fingerprint probe: one
	// read-only request, no Context mutation.
	MatchPlatform(ctx context.Context, pctx *Context) (bool, error)

	// Login performs the platform handshake and returns the new session,
	// or nil on bad credentials, an unreachable platform, or an
	// unparsable response. It never returns an error; the reason is
	// logged instead.
	Login(ctx context.Context, pctx *Context) *Session

	// SubmitFlag submits a flag and classifies the outcome. A nil result
	// with a nil error means the platform couldn't be asked in a
	// well-formed way (no session, no CSRF token, malformed response).
	SubmitFlag(ctx context.Context, pctx *Context, challengeID, flag string) (*SubmittedFlag, error)

	// PullChallenges streams challenges in platform order. Each element
	// costs at most one additional round trip; breaking early stops
	// further fetching, and re-ranging re-issues requests.
	PullChallenges(ctx context.Context, pctx *Context) iter.Seq2[Challenge, error]

	// PullScoreboard streams teams already rank-ordered descending,
	// truncated to maxEntries (20 when maxEntries <= 0).
	PullScoreboard(ctx context.Context, pctx *Context, maxEntries int) iter.Seq2[Team, error]

	// PullChallengeSolvers streams a challenge's solvers ascending by
	// solve time. limit=0 means unlimited.
	PullChallengeSolvers(ctx context.Context, pctx *Context, challengeID string, limit int) iter.Seq2[ChallengeSolver, error]

	// GetChallenge fetches a single challenge, nil when it doesn't exist.
	GetChallenge(ctx context.Context, pctx *Context, challengeID string) (*Challenge, error)

	// GetMe returns the authenticated credential's own team.
	GetMe(ctx context.Context, pctx *Context) (*Team, error)

	// Register creates an account (and team where applicable).
	Register(ctx context.Context, pctx *Context) (*RegistrationStatus, error)
}

// Definition describes a registered platform adapter. ID is stable across
// runs and usable as a persistence key.
type Definition struct {
	ID       string
	Name     string
	Priority int // lower probes first
	Client   Client
}

var registry []Definition

// register adds an adapter definition. Called from init() in adapter files.
func register(def Definition) {
	registry = append(registry, def)
	sort.SliceStable(registry, func(i, j int) bool {
		return registry[i].Priority < registry[j].Priority
	})
}

// Platforms returns all registered adapters in probe order.
func Platforms() []Definition {
	out := make([]Definition, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds an adapter by its stable ID.
func Lookup(id string) (Definition, bool) {
	for _, def := range registry {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}

// MatchPlatform probes the registered adapters in priority order and
// returns the first one that claims the site, or nil. A probe's transport
// failure only rules out that adapter.
func MatchPlatform(ctx context.Context, pctx *Context) *Definition {
	for _, def := range Platforms() {
		ok, err := def.Client.MatchPlatform(ctx, pctx)
		if err != nil {
			logger.Debug("platform probe failed",
				zap.String("platform", def.ID), zap.Error(err))
			continue
		}
		if ok {
			return &def
		}
	}
	return nil
}
