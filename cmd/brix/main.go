package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"brix/internal/config"
	"brix/internal/identity"
	"brix/internal/market"
	"brix/internal/notify"
	"brix/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if os.Getenv("BRIX_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	app := &appContext{cfg: cfg, log: logger}

	root := &cobra.Command{
		Use:          "brix",
		Short:        "Tokenized real-estate marketplace client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newLoginCmd(app),
		newLogoutCmd(app),
		newWhoamiCmd(app),
		newPropertiesCmd(app),
		newPortfolioCmd(app),
		newBuyCmd(app),
		newTransferCmd(app),
		newHistoryCmd(app),
		newBrowseCmd(app),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type appContext struct {
	cfg config.Config
	log *slog.Logger
}

func (a *appContext) newService() (*market.Service, *session.Manager, *notify.Queue) {
	provider := identity.NewProvider(a.cfg.IdentityURL, a.cfg.IdentityKey)
	sessions := session.NewManager(provider, a.log)
	notes := notify.NewQueue(notify.DefaultTTL)
	svc := market.New(market.Config{
		LedgerURL:    a.cfg.LedgerURL,
		CollectionID: a.cfg.CollectionID,
	}, sessions, notes, a.log)
	return svc, sessions, notes
}

// restore verifies the persisted grant against the provider and adopts it,
// loading both caches. Commands that need an authenticated session go
// through here.
func (a *appContext) restore(ctx context.Context) (*market.Service, *notify.Queue, error) {
	grant, err := session.LoadGrant()
	if err != nil {
		return nil, nil, fmt.Errorf("login required: %w", err)
	}
	provider := identity.NewProvider(a.cfg.IdentityURL, a.cfg.IdentityKey)
	user, err := provider.Verify(ctx, grant.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("session expired, run `brix login`: %w", err)
	}
	svc, _, notes := a.newService()
	if _, err := svc.Adopt(ctx, user.ID, grant.AccessToken); err != nil {
		return nil, nil, err
	}
	return svc, notes, nil
}

func opContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newLoginCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the identity provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()

			svc, _, notes := app.newService()
			sess, err := svc.Login(ctx, email, password)
			if err != nil {
				printNote(notes.Current())
				return err
			}
			if err := session.SaveGrant(session.StoredGrant{
				AccessToken: sess.AccessToken,
				Principal:   sess.Principal,
				Email:       email,
			}); err != nil {
				return err
			}
			printNote(notes.Current())
			return nil
		},
	}
}

func newLogoutCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Tear down the session and clear the local grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext(cmd)
			defer cancel()

			svc, sessions, notes := app.newService()
			if grant, err := session.LoadGrant(); err == nil {
				// Best effort revocation; logout succeeds locally regardless.
				if _, err := sessions.Adopt(grant.Principal, grant.AccessToken); err != nil {
					app.log.Debug("adopt for logout failed", "err", err)
				}
			}
			if err := svc.Logout(ctx); err != nil {
				return err
			}
			if err := session.ClearGrant(); err != nil {
				return err
			}
			printNote(notes.Current())
			return nil
		},
	}
}

func newWhoamiCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext(cmd)
			defer cancel()
			grant, err := session.LoadGrant()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			provider := identity.NewProvider(app.cfg.IdentityURL, app.cfg.IdentityKey)
			user, err := provider.Verify(ctx, grant.AccessToken)
			if err != nil {
				return fmt.Errorf("session expired, run `brix login`: %w", err)
			}
			fmt.Printf("principal: %s\n", user.ID)
			if user.Email != "" {
				fmt.Printf("email:     %s\n", user.Email)
			}
			return nil
		},
	}
}

func newPropertiesCmd(app *appContext) *cobra.Command {
	properties := &cobra.Command{
		Use:     "properties",
		Short:   "Browse the tokenized property catalog",
		Aliases: []string{"props"},
	}
	properties.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all catalog properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext(cmd)
			defer cancel()
			svc, notes, err := app.restore(ctx)
			if err != nil {
				return err
			}
			props := svc.Properties()
			if len(props) == 0 {
				printNote(notes.Current())
				return nil
			}
			renderProperties(props, svc.Holdings())
			return nil
		},
	})
	properties.AddCommand(&cobra.Command{
		Use:   "show <property_id>",
		Short: "Show one property in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			svc, _, err := app.restore(ctx)
			if err != nil {
				return err
			}
			p, err := svc.PropertyDetail(ctx, id)
			if err != nil {
				return err
			}
			renderPropertyDetail(p, svc.Balance(id))
			return nil
		},
	})
	return properties
}

func newPortfolioCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show your token balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext(cmd)
			defer cancel()
			svc, notes, err := app.restore(ctx)
			if err != nil {
				return err
			}
			if n := notes.Current(); n != nil && n.Severity == notify.SeverityError {
				printNote(n)
				return nil
			}
			renderPortfolio(svc.Properties(), svc.Holdings())
			return nil
		},
	}
}

func newBuyCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <property_id> <amount>",
		Short: "Buy fractional tokens of a property",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			svc, notes, err := app.restore(ctx)
			if err != nil {
				return err
			}
			err = svc.Buy(ctx, id, amount)
			printNote(notes.Current())
			return err
		},
	}
}

func newTransferCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <property_id> <amount> <recipient>",
		Short: "Transfer owned tokens to another principal",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := opContext(cmd)
			defer cancel()
			svc, notes, err := app.restore(ctx)
			if err != nil {
				return err
			}
			err = svc.Transfer(ctx, id, amount, args[2])
			printNote(notes.Current())
			return err
		},
	}
}

func newHistoryCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show your transaction history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opContext(cmd)
			defer cancel()
			svc, _, err := app.restore(ctx)
			if err != nil {
				return err
			}
			txs, err := svc.History(ctx)
			if err != nil {
				return err
			}
			renderHistory(txs)
			return nil
		},
	}
}

func parseID(raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid property id %q", raw)
	}
	return v, nil
}

func parseAmount(raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q", raw)
	}
	return v, nil
}
