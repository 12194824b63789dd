package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the retention sweep once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logCloser, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			deleted, err := a.svc.Uploads.RetentionSweep(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("retention sweep failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Retired %d file(s)\n", deleted)
			return nil
		},
	}
}
