package platform

import (
	"context"

	"go.uber.org/zap"
)

// resolveFirstBlood fills in flag.IsFirstBlood after a submission.
//
// When our own team is known, the evidence is the challenge's earliest
// solver: fetch exactly one solver page entry and compare teams. When
// identity is unknown the fallback is the challenge's solve count being at
// most one — a deliberately approximate, race-prone heuristic kept as-is
// because neither platform offers anything better without identity.
func resolveFirstBlood(ctx context.Context, pctx *Context, client Client, challengeID string, flag *SubmittedFlag) {
	if flag == nil {
		return
	}
	if flag.State != Correct {
		flag.IsFirstBlood = false
		return
	}

	me, err := client.GetMe(ctx, pctx)
	if err != nil {
		logger.Debug("first blood: own team lookup failed", zap.Error(err))
	}
	if me != nil {
		for solver, err := range client.PullChallengeSolvers(ctx, pctx, challengeID, 1) {
			if err != nil {
				logger.Debug("first blood: solver pull failed", zap.Error(err))
				return
			}
			flag.IsFirstBlood = solver.Team.Same(*me)
			return
		}
		return
	}

	challenge, err := client.GetChallenge(ctx, pctx, challengeID)
	if err != nil || challenge == nil {
		return
	}
	flag.IsFirstBlood = challenge.Solves <= 1
}
