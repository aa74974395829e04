package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rw-r-r-0644/ctf-relay/platform"
)

// envConfig is the environment-variable half of the configuration; flags
// override it. A .env file in the working directory is honored.
type envConfig struct {
	URL       string `env:"CTF_URL"`
	Platform  string `env:"CTF_PLATFORM"`
	Username  string `env:"CTF_USERNAME"`
	Password  string `env:"CTF_PASSWORD"`
	Email     string `env:"CTF_EMAIL"`
	TeamToken string `env:"CTF_TEAM_TOKEN"`
}

type app struct {
	url        string
	platformID string
	extraArgs  []string
	verbose    bool

	cfg envConfig
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "ctf-relay",
		Short:         "Uniform client for CTFd and rCTF scoring platforms",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.url, "url", "", "competition base URL (or CTF_URL)")
	pf.StringVar(&a.platformID, "platform", "", "force a platform adapter (ctfd, rctf) instead of detecting")
	pf.StringArrayVar(&a.extraArgs, "arg", nil, "extra credential argument key=value, repeatable")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newDetectCmd(a),
		newChallsCmd(a),
		newChalCmd(a),
		newSubmitCmd(a),
		newScoreboardCmd(a),
		newSolversCmd(a),
		newRegisterCmd(a),
		newWhoamiCmd(a),
	)
	return root
}

func (a *app) setup() error {
	_ = godotenv.Load()
	if err := env.Parse(&a.cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if a.url == "" {
		a.url = a.cfg.URL
	}
	if a.platformID == "" {
		a.platformID = a.cfg.Platform
	}
	if a.verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		platform.SetLogger(logger)
	}
	return nil
}

// buildContext assembles the platform context from env config plus any
// --arg overrides.
func (a *app) buildContext() (*platform.Context, error) {
	if a.url == "" {
		return nil, fmt.Errorf("a competition URL is required (--url or CTF_URL)")
	}

	args := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			args[key] = value
		}
	}
	set("username", a.cfg.Username)
	set("password", a.cfg.Password)
	set("email", a.cfg.Email)
	set("teamToken", a.cfg.TeamToken)

	for _, kv := range a.extraArgs {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			return nil, fmt.Errorf("--arg %q: must be key=value", kv)
		}
		args[key] = value
	}

	return platform.NewContext(a.url, args), nil
}

// resolve picks the adapter: the forced one when --platform is set,
// otherwise whichever probe claims the site.
func (a *app) resolve(ctx context.Context) (platform.Definition, *platform.Context, error) {
	pctx, err := a.buildContext()
	if err != nil {
		return platform.Definition{}, nil, err
	}

	if a.platformID != "" {
		def, ok := platform.Lookup(a.platformID)
		if !ok {
			return platform.Definition{}, nil, fmt.Errorf("unknown platform %q", a.platformID)
		}
		return def, pctx, nil
	}

	def := platform.MatchPlatform(ctx, pctx)
	if def == nil {
		return platform.Definition{}, nil, fmt.Errorf("no supported platform found at %s", a.url)
	}
	return *def, pctx, nil
}
