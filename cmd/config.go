package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ogichanchan/ninja-backup-mate/internal/config"
)

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print a sample configuration file",
		Long: `Print a sample YAML configuration with every default filled in.

Every key can also be set through an environment variable prefixed with
NINJA_BACKUP_MATE_, for example NINJA_BACKUP_MATE_DATABASE_PASSWORD.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.SampleYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
