package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-geo/roadmerge/internal/model"
	"github.com/meridian-geo/roadmerge/internal/store"
)

var (
	subsVendor string
	subsState  string
	subsLimit  int
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions [id]",
	Short: "List submissions, or show one by ID",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if len(args) == 1 {
			sub, err := st.GetSubmission(ctx, args[0])
			if err != nil {
				return err
			}
			return enc.Encode(sub)
		}

		subs, err := st.ListSubmissions(ctx, store.SubmissionFilter{
			VendorID: subsVendor,
			State:    model.SubmissionState(subsState),
			Limit:    subsLimit,
		})
		if err != nil {
			return err
		}
		return enc.Encode(subs)
	},
}

func init() {
	submissionsCmd.Flags().StringVar(&subsVendor, "vendor", "", "filter by vendor ID")
	submissionsCmd.Flags().StringVar(&subsState, "state", "", "filter by state")
	submissionsCmd.Flags().IntVar(&subsLimit, "limit", 20, "max rows")
	rootCmd.AddCommand(submissionsCmd)
}
