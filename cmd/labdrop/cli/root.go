package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// VersionInfo is stamped into the binary at build time.
type VersionInfo struct {
	Version string
	Commit  string
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%s.%s", v.Version, v.Commit)
}

var buildInfo = VersionInfo{Version: "dev", Commit: "none"}

func NewRootCommand(info VersionInfo) *cobra.Command {
	var path string
	buildInfo = info

	cmd := &cobra.Command{
		Use:   "labdrop",
		Short: "Lab file drop server",
		Long: `labdrop collects files uploaded by students on the local network and lets
admins review, download, and retire them. All state lives in JSON documents
under the data directory.`,
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(path)
		},
	}

	cmd.PersistentFlags().StringVar(&path, "config", "", "config file (default is ./labdrop.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("data-dir", "./data", "directory holding the JSON documents and stored files")

	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("data_dir", cmd.PersistentFlags().Lookup("data-dir"))

	cmd.Version = info.String()

	return cmd
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "labdrop %s\n", buildInfo)
			return nil
		},
	}
}
