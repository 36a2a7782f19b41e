package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/binarybattles/coderelay/internal/auth"
	"github.com/binarybattles/coderelay/internal/coderelay"
	"github.com/binarybattles/coderelay/internal/judge"
	"github.com/binarybattles/coderelay/internal/migrations"
	"github.com/binarybattles/coderelay/internal/store"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := migrations.Up(cmd.Context(), db)
			if err != nil {
				return err
			}
			newLogger().Info("migrations applied", "count", n, "path", globalFlags.dbPath)
			return nil
		},
	}
}

func hashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the stored hash of a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func addAdminCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add-admin <username> <password>",
		Short: "Create an admin account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password := args[0], args[1]
			if err := coderelay.ValidateAdminCredentials(username, password); err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migrations.RunContext(cmd.Context(), db); err != nil {
				return err
			}

			s := store.New(db)
			if err := s.CreateTeam(cmd.Context(), store.NewTeam{Name: username, PasswordHash: hash, IsAdmin: true}); err != nil {
				return err
			}
			newLogger().Info("admin created", "username", username)
			return nil
		},
	}
}

func addTeamCommand() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "add-team <name> [member-id...]",
		Short: "Create a team with the given member registration ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := coderelay.NormalizeTeamName(args[0])
			if name == "" {
				return fmt.Errorf("invalid team name %q", args[0])
			}
			members := make([]coderelay.Member, 0, len(args)-1)
			for i, id := range args[1:] {
				members = append(members, coderelay.Member{ID: id, Index: i})
			}
			if len(members) == 0 && password == "" {
				return fmt.Errorf("a team needs a password or at least one member")
			}

			var hash string
			if password != "" {
				var err error
				if hash, err = auth.HashPassword(password); err != nil {
					return err
				}
			}

			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migrations.RunContext(cmd.Context(), db); err != nil {
				return err
			}

			s := store.New(db)
			if err := s.CreateTeam(cmd.Context(), store.NewTeam{Name: name, PasswordHash: hash, Members: members}); err != nil {
				return err
			}
			newLogger().Info("team created", "team", name, "members", len(members))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "optional team password")
	return cmd
}

func checkProblemsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-problems <file>",
		Short: "Validate a problem file and list its problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := judge.LoadProblems(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range ps.IDs() {
				p, _ := ps.Get(id)
				hidden := 0
				for _, tc := range p.TestCases {
					if tc.Hidden {
						hidden++
					}
				}
				fmt.Fprintf(out, "%d\t%s\t%d points\t%d cases (%d hidden)\n", p.ID, p.Title, p.Points, len(p.TestCases), hidden)
			}
			return nil
		},
	}
}
