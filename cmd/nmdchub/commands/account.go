package commands

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nmdchub/nmdchub/pkg/config"
	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

var (
	accountOp       bool
	accountVerified bool
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage hub accounts",
	Long: `Manage hub accounts directly against the configured store.

The hub must be stopped while using these commands on a SQLite store; the
runtime caches accounts and will not see external changes.

Examples:
  nmdchub account create alice
  nmdchub account create admin --op --verified
  nmdchub account op alice
  nmdchub account verify alice
  nmdchub account passwd alice
  nmdchub account list`,
}

var accountCreateCmd = &cobra.Command{
	Use:   "create <nick>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			nick := args[0]
			password, err := promptPassword(fmt.Sprintf("Password for %s (empty for none): ", nick))
			if err != nil {
				return err
			}
			account := &models.Account{
				Nick:         nick,
				Password:     password,
				Op:           accountOp,
				Verified:     accountVerified || accountOp,
				CreationTime: time.Now().Unix(),
			}
			if err := st.CreateAccount(ctx, account); err != nil {
				return err
			}
			fmt.Printf("Account %s created (oid %d)\n", nick, account.OID)
			return nil
		})
	},
}

var accountOpCmd = &cobra.Command{
	Use:   "op <nick>",
	Short: "Grant operator status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			if err := st.SetOp(ctx, args[0], true); err != nil {
				return err
			}
			fmt.Printf("%s is now an operator\n", args[0])
			return nil
		})
	},
}

var accountVerifyCmd = &cobra.Command{
	Use:   "verify <nick>",
	Short: "Mark an account verified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			if err := st.SetVerified(ctx, args[0], true); err != nil {
				return err
			}
			fmt.Printf("%s is now verified\n", args[0])
			return nil
		})
	},
}

var accountPasswdCmd = &cobra.Command{
	Use:   "passwd <nick>",
	Short: "Change an account password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			password, err := promptPassword(fmt.Sprintf("New password for %s: ", args[0]))
			if err != nil {
				return err
			}
			if err := st.UpdatePassword(ctx, args[0], password); err != nil {
				return err
			}
			fmt.Printf("Password updated for %s\n", args[0])
			return nil
		})
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			accounts, err := st.ListAccounts(ctx)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Nick", "Op", "Verified", "Created"})
			for _, a := range accounts {
				table.Append([]string{
					a.Nick,
					boolMark(a.Op),
					boolMark(a.Verified),
					time.Unix(a.CreationTime, 0).UTC().Format("2006-01-02"),
				})
			}
			table.Render()
			return nil
		})
	},
}

func init() {
	accountCreateCmd.Flags().BoolVar(&accountOp, "op", false, "Grant operator status")
	accountCreateCmd.Flags().BoolVar(&accountVerified, "verified", false, "Mark the account verified")

	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountOpCmd)
	accountCmd.AddCommand(accountVerifyCmd)
	accountCmd.AddCommand(accountPasswdCmd)
	accountCmd.AddCommand(accountListCmd)
}

// withStore opens the configured store for one command and closes it after.
func withStore(fn func(ctx context.Context, st *store.Store) error) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()
	return fn(context.Background(), st)
}

// promptPassword reads a password without echo when stdin is a terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}
	var password string
	if _, err := fmt.Fscanln(os.Stdin, &password); err != nil && err.Error() != "unexpected newline" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return password, nil
}

func boolMark(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
