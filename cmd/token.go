package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ogichanchan/ninja-backup-mate/internal/config"
	"github.com/ogichanchan/ninja-backup-mate/internal/host"
)

func newTokenCommand() *cobra.Command {
	var (
		username     string
		capabilities []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin session token",
		Long: `Mint a signed session token for the admin page.

Send it as "Authorization: Bearer <token>" or store it in the
ninja_backup_mate_session cookie.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Only the auth section matters here; the database need not be configured.
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			auth, err := host.NewAuthorizer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			token, err := auth.Mint(username, capabilities)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "user", "admin", "user name carried by the token")
	cmd.Flags().StringSliceVar(&capabilities, "capability", []string{host.CapabilityManageOptions}, "capabilities granted to the token")
	return cmd
}
