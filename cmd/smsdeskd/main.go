package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/smsdesk/smsdesk/internal/daemon"
	"github.com/smsdesk/smsdesk/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	// Credentials may live in a local .env during development.
	_ = godotenv.Load()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, ListenAddr: *listenFlag}),
	)

	app.Run()
}
