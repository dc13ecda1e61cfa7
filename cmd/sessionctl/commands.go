package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jrsteele09/go-session-client/api"
	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/navigation"
	"github.com/spf13/cobra"
)

var (
	username string
	email    string
	password string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pw, err := passwordOrPrompt()
		if err != nil {
			return err
		}
		s, err := client.auth.Login(cmd.Context(), username, pw)
		if err != nil {
			return describe(err)
		}
		fmt.Printf("Signed in as %s (%s)\n", s.Username, roleOrNone(string(s.Role)))
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pw, err := passwordOrPrompt()
		if err != nil {
			return err
		}
		s, err := client.auth.Register(cmd.Context(), username, email, pw)
		if err != nil {
			return describe(err)
		}
		fmt.Printf("Registered and signed in as %s\n", s.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := client.auth.Restore(cmd.Context(), false); err != nil {
			return err
		}
		if err := client.auth.Logout(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		fmt.Println("Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Validate the stored session and show who it belongs to",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ok, err := client.auth.Restore(cmd.Context(), true)
		if err != nil {
			return describe(err)
		}
		if !ok {
			fmt.Println("Not signed in")
			return nil
		}
		s := client.sessions.Current()
		fmt.Printf("%s (id %s, role %s)\n", s.Username, s.UserID, roleOrNone(string(s.Role)))
		if !s.Expiry.IsZero() {
			fmt.Printf("access token expires %s\n", s.Expiry.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "GET an API path with the session, refreshing on 401",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := client.auth.Restore(cmd.Context(), false); err != nil {
			return err
		}
		var body json.RawMessage
		if err := client.api.Get(cmd.Context(), args[0], &body); err != nil {
			return describe(err)
		}
		pretty, err := json.MarshalIndent(body, "", "  ")
		if err != nil {
			pretty = body
		}
		fmt.Println(string(pretty))
		return nil
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes [path]",
	Short: "List the pages, or show where the guard sends the session for a path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := navigation.Routes()
		if len(args) == 0 {
			for _, r := range table.All() {
				access := "public"
				switch {
				case r.RequiredRole != "":
					access = "role " + string(r.RequiredRole)
				case r.RequiresAuth:
					access = "signed in"
				}
				fmt.Printf("%-20s %-20s %s\n", r.Name, r.Path, access)
			}
			return nil
		}

		if _, err := client.auth.Restore(cmd.Context(), false); err != nil {
			return err
		}
		target := table.Resolve(args[0])
		decision := navigation.Guard(target, client.sessions)
		if decision.Proceed() {
			fmt.Printf("%s: proceed\n", target.Name)
			return nil
		}
		fmt.Printf("%s: redirect to %s\n", target.Name, table.Location(decision))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVarP(&username, "username", "u", "", "account username")
		c.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when empty)")
		_ = c.MarkFlagRequired("username")
	}
	registerCmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	_ = registerCmd.MarkFlagRequired("email")
}

func passwordOrPrompt() (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("[passwordOrPrompt] failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describe turns the error taxonomy into something a person can act on
func describe(err error) error {
	var statusErr *api.StatusError
	switch {
	case apperrors.Is(err, apperrors.ErrInvalidCredentials):
		return fmt.Errorf("invalid credentials: %w", err)
	case apperrors.Is(err, apperrors.ErrUnauthorized):
		return errors.New("session expired, run sessionctl login")
	case apperrors.Is(err, apperrors.ErrNetworkFailure):
		return fmt.Errorf("could not reach the API, try again: %w", err)
	case apperrors.As(err, &statusErr):
		return fmt.Errorf("%w: %s", statusErr, strings.TrimSpace(statusErr.Body))
	default:
		return err
	}
}

func roleOrNone(role string) string {
	if role == "" {
		return "no role"
	}
	return role
}
