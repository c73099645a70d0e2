// Package commands implements the razgovor terminal client.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"razgovor/internal/client"
	"razgovor/internal/config"
	"razgovor/internal/models"
	"razgovor/internal/storage"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var version = "dev"

var ErrUnknownUser = errors.New("unknown user")

// NewRootCmd builds the command tree. Configuration comes from the
// environment, see config.Client.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "razgovor",
		Short: "Terminal client for one-to-one chat",
		Long: `razgovor talks to a chat backend over REST and a live channel.

Quick Start:
  razgovor signup --username alice --email alice@example.com --password secret1
  razgovor login --email alice@example.com --password secret1
  razgovor users
  razgovor chat bob

Server and storage locations are read from API_BASE_URL, CHANNEL_URL and
CREDENTIALS_DB.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newSignupCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newUsersCmd(),
		newHistoryCmd(),
		newSendCmd(),
		newChatCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute(ctx context.Context) {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// withClient loads the configuration, opens the credential database and
// hands a client to fn. The client is closed when fn returns.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger := config.NewLogger(cmd.ErrOrStderr(), level)

	db, err := storage.NewBboltStorage(cfg.CredentialsDB)
	if err != nil {
		return fmt.Errorf("failed to open credentials db: %w", err)
	}

	c, err := client.New(client.Config{
		APIBaseURL:     cfg.APIBaseURL,
		ChannelURL:     cfg.ChannelURL,
		RequestTimeout: cfg.RequestTimeout,
		TypingTimeout:  cfg.TypingTimeout,
		Log:            logger,
	}, db)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close client", "error", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, c)
}

// findUser matches name against display names, case-insensitively, and
// then against ids.
func findUser(users []models.User, name string) (models.User, error) {
	u, ok := lo.Find(users, func(u models.User) bool {
		return strings.EqualFold(u.DisplayName, name)
	})
	if ok {
		return u, nil
	}
	u, ok = lo.Find(users, func(u models.User) bool {
		return u.ID == name
	})
	if ok {
		return u, nil
	}
	return models.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, name)
}

func displayNames(users []models.User) map[string]string {
	return lo.SliceToMap(users, func(u models.User) (string, string) {
		return u.ID, u.DisplayName
	})
}
