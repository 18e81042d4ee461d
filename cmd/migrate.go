package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"live-academy/config"
	"live-academy/repository"
)

func migrate(config *config.Config) *cobra.Command {
	var withReadModels bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "create or update the live session tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(cmd.OutOrStdout()).With().Timestamp().Logger()
			ctx := logger.WithContext(context.Background())

			repo, err := repository.NewRepo(config.DB, config.DBDriver)
			if err != nil {
				return err
			}
			if err := repo.AutoMigrate(ctx, withReadModels); err != nil {
				logger.Error().Err(err).Msg("migration failed")
				return err
			}
			logger.Info().Str("driver", config.DBDriver).Bool("with_read_models", withReadModels).Msg("migration completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&withReadModels, "with-read-models", false, "also create the class assignment and subscription tables")
	return cmd
}
