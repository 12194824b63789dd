package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"labdrop/internal/client"
)

func NewPushCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push [flags] <file|dir>...",
		Short: "Upload files to a running labdrop server as one batch",
		Long: `Upload files to a running labdrop server as one batch.

Directories are searched recursively; use --ext to limit which files are
picked up from them. Each file is described by its name unless
--description is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			name, _ := cmd.Flags().GetString("name")
			grade, _ := cmd.Flags().GetInt("grade")
			version, _ := cmd.Flags().GetString("version")
			description, _ := cmd.Flags().GetString("description")
			password, _ := cmd.Flags().GetString("password")
			exts, _ := cmd.Flags().GetStringSlice("ext")

			files, err := client.CollectFiles(args, exts)
			if err != nil {
				return err
			}

			req := client.PushRequest{
				UploaderName: name,
				Password:     password,
				Description:  description,
				Version:      version,
				Files:        files,
			}
			if cmd.Flags().Changed("grade") {
				req.Grade = &grade
			}

			batch, err := client.New(server).Push(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d file(s) as %s (batch %s)\n",
				len(batch.FileIDs), batch.UploaderName, batch.ID)
			return nil
		},
	}

	cmd.Flags().String("server", "http://localhost:8000", "labdrop server URL")
	cmd.Flags().String("name", "", "uploader name")
	cmd.Flags().Int("grade", 0, "uploader grade, required the first time a name is used")
	cmd.Flags().String("version", "1", "version recorded for every file")
	cmd.Flags().String("description", "", "description for every file (default: file name)")
	cmd.Flags().String("password", "", "shared upload password, when the server requires one")
	cmd.Flags().StringSlice("ext", nil, "extensions to pick up from directories, e.g. --ext stl,json")
	cmd.MarkFlagRequired("name")

	return cmd
}
