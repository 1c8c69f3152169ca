package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/moveinn/minn/internal/app"
	"github.com/moveinn/minn/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	tokenFlag := flag.String("token", "", "store a bearer token for the session and exit")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *tokenFlag != "" {
		if err := storeToken(sessionName, *tokenFlag); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("token stored for session %q\n", sessionName)
		return
	}

	fxApp := fx.New(
		app.Module(app.Params{SessionName: sessionName}),
	)

	fxApp.Run()
}

// storeToken writes the bearer token into the session's credentials file. The
// token is validated by parsing its claims; an unreadable token is rejected
// here rather than on first connect.
func storeToken(sessionName, token string) error {
	if err := session.EnsureDir(sessionName); err != nil {
		return err
	}
	creds := &session.Credentials{Token: token}
	if err := session.SaveCredentials(session.CredentialsPath(sessionName), creds); err != nil {
		return err
	}
	if _, err := session.NewSession(sessionName); err != nil {
		return fmt.Errorf("token stored but unusable: %w", err)
	}
	return nil
}
