package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"amber-im/engine/internal/daemon"
	"amber-im/engine/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides AMBER_PROFILE)")
	flag.Parse()

	name := profile.Resolve(*profileFlag, os.Getenv("AMBER_PROFILE"))
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ProfileName:        name,
			KeychainPassphrase: os.Getenv("AMBER_KEYCHAIN_PASSPHRASE"),
		}),
	)

	app.Run()
}
