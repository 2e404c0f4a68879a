package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igcrawler/pkg/auth"
	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/remote"
	"igcrawler/pkg/ui"
)

var loginWithPassword bool

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the crawl session",
	Long: `Manage the session the crawler authenticates with.

Sessions are looked up in this order:
  - the encrypted session file (remote.session_file)
  - the system keychain, when available
  - IGCRAWLER_SESSION_ID / IGCRAWLER_CSRF_TOKEN
  - a fresh login with IGCRAWLER_USERNAME / IGCRAWLER_PASSWORD

Use a secondary account. Never share the session file or its passphrase.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store a session",
	Long: `Store a session in the encrypted session file.

By default you are asked for the sessionid and csrftoken cookies of a
logged-in browser. With --password the crawler logs in with the account
password instead and stores the cookies it receives.`,
	Example: `  igcrawler auth login
  igcrawler auth login crawler_account --password`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [username]",
	Short: "Remove stored sessions",
	Long:  `Remove the session of one account, or of every account when no username is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which session a run would use",
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)

	authLoginCmd.Flags().BoolVar(&loginWithPassword, "password", false, "log in with the account password instead of cookies")
}

func credentialManager(cmd *cobra.Command) (*config.Config, *auth.Manager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	manager, err := auth.NewManager(cfg.Remote.SessionFile, logger.GetLogger())
	if err != nil {
		return nil, nil, errs.Configuration("failed to open credential stores", err)
	}
	return cfg, manager, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, manager, err := credentialManager(cmd)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(os.Stdin)

	username := cfg.Remote.Username
	if len(args) > 0 {
		username = args[0]
	}
	if username == "" {
		if username, err = prompt(reader, "Username: "); err != nil {
			return err
		}
	}
	username = remote.SanitizeUsername(username)
	if !remote.IsValidUsername(username) {
		return errs.Configuration(fmt.Sprintf("invalid username %q", username), nil)
	}

	var account *auth.Account
	if loginWithPassword {
		fmt.Print("Password: ")
		password, err := readSecret(reader)
		if err != nil {
			return err
		}
		client := remote.NewHTTPClient(cfg, remote.WithLogger(logger.GetLogger()))
		defer client.Close()
		if account, err = client.Login(cmd.Context(), username, password); err != nil {
			return err
		}
	} else {
		auth.WriteCookieGuide(os.Stdout)
		fmt.Print("sessionid: ")
		sessionID, err := readSecret(reader)
		if err != nil {
			return err
		}
		fmt.Print("csrftoken: ")
		csrfToken, err := readSecret(reader)
		if err != nil {
			return err
		}
		account = &auth.Account{
			Username:     username,
			SessionID:    sessionID,
			CSRFToken:    csrfToken,
			LastModified: time.Now(),
		}
	}

	if err := manager.Persist(account); err != nil {
		return errs.Configuration("failed to store session", err)
	}
	ui.PrintSuccess("Session stored for " + username)
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	_, manager, err := credentialManager(cmd)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if err := manager.Delete(args[0]); err != nil {
			return err
		}
		ui.PrintSuccess("Session removed: " + args[0])
		return nil
	}

	answer, err := prompt(bufio.NewReader(os.Stdin), "Remove every stored session? (y/N): ")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.ToLower(answer), "y") {
		return nil
	}
	if err := manager.DeleteAll(); err != nil {
		return err
	}
	ui.PrintSuccess("All sessions removed")
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, manager, err := credentialManager(cmd)
	if err != nil {
		return err
	}

	account, source, err := manager.Resolve(cfg.Remote.Username, false)
	_, _, canLogin := auth.LoginCredentials()
	switch {
	case err == nil:
		printAccount(os.Stdout, auth.SanitizeAccount(account), string(source))
	case canLogin:
		ui.PrintInfo("Session", "none stored; a run will log in with IGCRAWLER_USERNAME")
	default:
		ui.PrintWarning("No session found. Run 'igcrawler auth login'.")
	}

	accounts, err := manager.List()
	if err == nil && len(accounts) > 1 {
		fmt.Println("\nOther stored accounts:")
		for _, a := range accounts {
			if account != nil && a.Username == account.Username {
				continue
			}
			fmt.Printf("  - %s\n", a.Username)
		}
	}
	return nil
}

func printAccount(w io.Writer, a *auth.Account, source string) {
	fmt.Fprintf(w, "%s: %s\n", ui.Cyan("Account"), ui.Yellow(a.Username))
	fmt.Fprintf(w, "%s: %s\n", ui.Cyan("Source"), source)
	fmt.Fprintf(w, "%s: %s\n", ui.Cyan("Session ID"), a.SessionID)
	fmt.Fprintf(w, "%s: %s\n", ui.Cyan("CSRF token"), a.CSRFToken)
	if !a.LastModified.IsZero() {
		fmt.Fprintf(w, "%s: %s\n", ui.Cyan("Saved"), a.LastModified.Format("2006-01-02 15:04:05"))
	}
}

func prompt(r *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func readSecret(r *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}
	return prompt(r, "")
}
