package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewImportLegacyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-legacy",
		Short: "Merge users.json and groups.json of the previous system into the uploaders",
		Long: `Import uploaders from the previous system's users.json and groups.json.

Admin accounts are skipped, names that differ only in case are merged, and a
report of every run is written to migration_reports/ in the data directory.
Running the import again with the same files changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usersPath, _ := cmd.Flags().GetString("users")
			groupsPath, _ := cmd.Flags().GetString("groups")

			cfg, logCloser, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			result, err := a.svc.Importer.Import(cmd.Context(), usersPath, groupsPath)
			if err != nil {
				return err
			}

			counts := result.Report.Counts
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Source users:          %d\n", counts.TotalSourceUsers)
			fmt.Fprintf(out, "Imported uploaders:    %d\n", counts.ImportedUploaders)
			fmt.Fprintf(out, "Merged collisions:     %d\n", counts.MergedCollisionGroups)
			fmt.Fprintf(out, "Skipped (no grade):    %d\n", counts.SkippedNoGrade)
			fmt.Fprintf(out, "Skipped (admins):      %d\n", counts.SkippedAdmins)
			fmt.Fprintf(out, "Report: %s\n", result.ReportPath)
			return nil
		},
	}

	cmd.Flags().String("users", "users.json", "path to the legacy users.json")
	cmd.Flags().String("groups", "groups.json", "path to the legacy groups.json")

	return cmd
}
