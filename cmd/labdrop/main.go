package main

import (
	"fmt"
	"os"

	"labdrop/cmd/labdrop/cli"
)

var (
	version = "0.1.0-dev"
	commit  = "main"
)

func main() {
	root := cli.NewRootCommand(cli.VersionInfo{
		Version: version,
		Commit:  commit,
	})

	root.AddCommand(cli.NewVersionCommand())
	root.AddCommand(cli.NewServeCommand())
	root.AddCommand(cli.NewSweepCommand())
	root.AddCommand(cli.NewImportLegacyCommand())
	root.AddCommand(cli.NewPushCommand())
	root.AddCommand(cli.NewConfigCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
