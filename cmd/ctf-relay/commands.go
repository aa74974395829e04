package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDetectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Detect which platform backs the competition URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, _, err := a.resolve(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", def.ID, def.Name)
			return nil
		},
	}
}

func newChallsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "challs",
		Short: "List all challenges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, pctx, err := a.resolve(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tCategory\tName\tPoints\tSolves\tSolved")
			count := 0
			for challenge, err := range def.Client.PullChallenges(cmd.Context(), pctx) {
				if err != nil {
					return err
				}
				solved := ""
				if challenge.SolvedByMe {
					solved = "✓"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					challenge.ID, challenge.Category, challenge.Name,
					challenge.Value, challenge.Solves, solved)
				count++
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if count == 0 {
				fmt.Println("no challenges (not authenticated, or the CTF hasn't started)")
			}
			return nil
		},
	}
}

func newChalCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chal <id>",
		Short: "Show one challenge in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, pctx, err := a.resolve(cmd.Context())
			if err != nil {
				return err
			}
			challenge, err := def.Client.GetChallenge(cmd.Context(), pctx, args[0])
			if err != nil {
				return err
			}
			if challenge == nil {
				return fmt.Errorf("challenge %s not found", args[0])
			}

			fmt.Printf("ID:        %s\n", challenge.ID)
			fmt.Printf("Name:      %s\n", challenge.Name)
			fmt.Printf("Category:  %s\n", challenge.Category)
			fmt.Printf("Points:    %d\n", challenge.Value)
			fmt.Printf("Solves:    %d\n", challenge.Solves)
			fmt.Printf("Solved:    %v\n", challenge.SolvedByMe)
			if len(challenge.Tags) > 0 {
				fmt.Printf("Tags:      %s\n", strings.Join(challenge.Tags, ", "))
			}
			if challenge.ConnectionInfo != "" {
				fmt.Printf("Connect:   %s\n", challenge.ConnectionInfo)
			}
			if challenge.Description != "" {
				fmt.Printf("\n%s\n", challenge.Description)
			}
			if len(challenge.Files) > 0 {
				fmt.Println("\nFiles:")
				for _, f := range challenge.Files {
					fmt.Printf("  %s\t%s\n", f.Name, f.URL)
				}
			}
			if len(challenge.Images) > 0 {
				fmt.Println("\nImages:")
				for _, f := range challenge.Images {
					fmt.Printf("  %s\t%s\n", f.Name, f.URL)
				}
			}
			return nil
		},
	}
}

func newSubmitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id> <flag>",
		Short: "Submit a flag and report the classified outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, pctx, err := a.resolve(cmd.Context())
			if err != nil {
				return err
			}
			result, err := def.Client.SubmitFlag(cmd.Context(), pctx, args[0], args[1])
			if err != nil {
				return err
			}
			if result == nil {
				return fmt.Errorf("submission could not be performed (check credentials)")
			}

			fmt.Printf("State: %s\n", result.State)
			if result.Retries != nil {
				fmt.Printf("Retries left: %d\n", result.Retries.Left)
			}
			if result.IsFirstBlood {
				fmt.Println("First blood!")
			}
			return nil
		},
	}
}

func newScoreboardCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "scoreboard",
		Short: "Show the top of the scoreboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, pctx, err := a.resolve(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "#\tTeam\tScore")
			rank := 0
			for team, err := range def.Client.PullScoreboard(cmd.Context(), pctx, limit) {
				if err != nil {
					return err
				}
				rank++
				fmt.Fprintf(w, "%d\t%s\t%d\n", rank, team.Name, team.Score)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of teams to show")
	return cmd
}

func newSolversCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "solvers <id>",
		Short: "List a challenge's solvers, earliest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, pctx, err := a.resolve(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "Team\tSolved at")
			for solver, err := range def.Client.PullChallengeSolvers(cmd.Context(), pctx, args[0], limit) {
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", solver.Team.Name, solver.SolvedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of solvers to show (0 = all)")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register an account and team on the platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, pctx, err := a.resolve(cmd.Context())
			if err != nil {
				return err
			}
			status, err := def.Client.Register(cmd.Context(), pctx)
			if err != nil {
				return err
			}
			if !status.Success {
				return fmt.Errorf("registration failed: %s", status.Message)
			}

			fmt.Println("registered")
			if status.Token != "" {
				fmt.Printf("Token:  %s\n", status.Token)
			}
			if status.Invite != "" {
				fmt.Printf("Invite: %s\n", status.Invite)
			}
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, pctx, err := a.resolve(cmd.Context())
			if err != nil {
				return err
			}
			me, err := def.Client.GetMe(cmd.Context(), pctx)
			if err != nil {
				return err
			}
			if me == nil {
				return fmt.Errorf("not authenticated")
			}

			fmt.Printf("Team:   %s (id %s)\n", me.Name, me.ID)
			fmt.Printf("Score:  %d\n", me.Score)
			if me.InviteToken != "" {
				fmt.Printf("Invite: %s\n", me.InviteToken)
			}
			if len(me.Solves) > 0 {
				fmt.Printf("Solved: %d challenges\n", len(me.Solves))
			}
			return nil
		},
	}
}
