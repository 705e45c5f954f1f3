package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/toolsync/internal/server/handlers"
	"github.com/iudanet/toolsync/internal/validation"
)

func newTokenCmd() *cobra.Command {
	var (
		userID   string
		deviceID string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for one user's device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if !e.cfg.Auth.Enabled() {
				return errors.New("auth is disabled: set --jwt-secret or auth.jwt_secret")
			}

			normalized, err := validation.NormalizeUserID(userID)
			if err != nil {
				return err
			}

			jwtCfg := handlers.JWTConfig{
				Secret:         []byte(e.cfg.Auth.JWTSecret),
				AccessTokenTTL: e.cfg.Auth.TokenTTL,
			}
			if ttl > 0 {
				jwtCfg.AccessTokenTTL = ttl
			}

			token, expiresIn, err := handlers.GenerateAccessToken(jwtCfg, normalized, deviceID)
			if err != nil {
				return err
			}

			e.logger.Info("Token issued", "user_id", normalized, "device_id", deviceID, "expires_in", expiresIn)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&userID, "user", "", "user the token is bound to")
	f.StringVar(&deviceID, "device", "", "optional device label stored in the token")
	f.DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to auth.token_ttl")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
