package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/offline-time-tracker/internal/config"
	"github.com/Tiliavir/offline-time-tracker/internal/frappe"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the HR system with OAuth2",
	Long: `Login prints an authorization URL. Open it, approve access, and paste the
code (or the whole redirect URL) back here. The token is stored in
~/.tta/auth/ and refreshed automatically.`,
	Args: cobra.NoArgs,
	RunE: withApp(runLogin),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored OAuth2 token",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func runLogin(cmd *cobra.Command, args []string, a *app) error {
	if a.cfg.Auth.Mode != config.AuthOAuth2 {
		return userError(fmt.Errorf("auth.mode is %q, login is only needed for %q", a.cfg.Auth.Mode, config.AuthOAuth2))
	}
	if a.cfg.Server.URL == "" {
		return userError(errNoServer)
	}
	if a.cfg.Auth.ClientID == "" {
		return userError(errors.New("auth.client_id is not configured"))
	}

	login := &frappe.Login{Config: frappe.OAuth2Config(a.oauthConfig()), Store: a.tokenStore()}
	state := uuid.NewString()

	fmt.Fprintln(a.out, "Open this URL in your browser and approve access:")
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "  "+login.AuthCodeURL(state))
	fmt.Fprintln(a.out)
	fmt.Fprint(a.out, "Paste the code or redirect URL: ")

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return userError(fmt.Errorf("reading authorization code: %w", err))
	}
	code, err := authorizationCode(line, state)
	if err != nil {
		return userError(err)
	}

	if _, err := login.Exchange(cmd.Context(), code); err != nil {
		return userError(err)
	}
	fmt.Fprintln(a.out, okStyle.Render("Logged in."))
	return nil
}

// authorizationCode accepts either the bare code or the full redirect URL.
// A redirect URL carrying a different state is refused.
func authorizationCode(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("no authorization code given")
	}
	if !strings.Contains(input, "?") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parsing redirect URL: %w", err)
	}
	query := u.Query()
	if got := query.Get("state"); got != "" && got != state {
		return "", errors.New("state mismatch, start the login again")
	}
	if e := query.Get("error"); e != "" {
		return "", fmt.Errorf("authorization denied: %s", e)
	}
	code := query.Get("code")
	if code == "" {
		return "", errors.New("redirect URL carries no code")
	}
	return code, nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	base, err := config.BaseDir()
	if err != nil {
		return storageError(err)
	}
	if err := frappe.DefaultTokenStore(base).Delete(); err != nil {
		return storageError(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}
