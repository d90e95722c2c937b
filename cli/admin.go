package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/config"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/conn"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/entitlements"
	"github.com/gutoaeraphe/roteirista-pro-app-sub000/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrations.Migrate(cmd.Context(), db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant USER_ID",
	Short: "Add analysis credits and chat messages to an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runGrant,
}

var unlimitedCmd = &cobra.Command{
	Use:   "unlimited USER_ID",
	Short: "Mark an account as unlimited, or revert it with --off",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnlimited,
}

func init() {
	rootCmd.AddCommand(migrateCmd, grantCmd, unlimitedCmd)
	grantCmd.Flags().Int("credits", 0, "analysis credits to add")
	grantCmd.Flags().Int("chat", 0, "chat messages to add")
	unlimitedCmd.Flags().Bool("off", false, "remove the unlimited flag")
}

func runGrant(cmd *cobra.Command, args []string) error {
	credits, _ := cmd.Flags().GetInt("credits")
	chat, _ := cmd.Flags().GetInt("chat")
	if credits <= 0 && chat <= 0 {
		return fmt.Errorf("nothing to grant: pass --credits and/or --chat")
	}
	ent, db, err := openEntitlements()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	for _, g := range []struct {
		res    entitlements.Resource
		amount int
	}{{entitlements.Credits, credits}, {entitlements.ChatMessages, chat}} {
		if g.amount <= 0 {
			continue
		}
		bal, err := ent.Credit(ctx, args[0], g.res, g.amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d\n", args[0], g.res, bal)
	}
	return nil
}

func runUnlimited(cmd *cobra.Command, args []string) error {
	off, _ := cmd.Flags().GetBool("off")
	ent, db, err := openEntitlements()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := ent.SetUnlimited(cmd.Context(), args[0], !off); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s unlimited=%t\n", args[0], !off)
	return nil
}

func openDB() (*config.Config, *conn.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := conn.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func openEntitlements() (*entitlements.Repository, *conn.DB, error) {
	cfg, db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	return entitlements.NewRepository(db, entitlements.Grant{Credits: cfg.SignupCredits, ChatMessages: cfg.SignupChatMessages}), db, nil
}
