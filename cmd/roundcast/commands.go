package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roundcast/backend/internal/app"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the session janitor and the ops HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or list schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			command := "up"
			if len(args) > 0 {
				command = args[0]
			}
			return app.Migrate(cmd.Context(), cfg, command, cmd.OutOrStdout())
		},
	}
}

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	var userID int64
	var limit int

	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Print a user's saved video notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			artifacts, err := app.ListArtifacts(cmd.Context(), cfg, userID, limit)
			if err != nil {
				return err
			}
			if len(artifacts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved video notes.")
				return nil
			}

			rows := make([][]string, 0, len(artifacts))
			for _, a := range artifacts {
				rows = append(rows, []string{
					strconv.FormatInt(a.ID, 10),
					a.CreatedAt.Format("2006-01-02 15:04"),
					strconv.Itoa(a.Duration) + "s",
					strconv.Itoa(a.Width) + "x" + strconv.Itoa(a.Height),
					a.Effect.DisplayName(),
					a.Text,
					a.Caption,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Created", "Length", "Size", "Effect", "Text", "Caption"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "Telegram user id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of rows")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
