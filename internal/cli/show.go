package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bond-screener/internal/app"
)

var (
	showLimit    int
	showCriteria criteriaFlags
	runsLimit    int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display bonds matching the filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}
		criteria, err := showCriteria.criteria(cmd)
		if err != nil {
			return err
		}
		return getApp().Show(cmd.Context(), app.ShowOptions{Criteria: criteria, Limit: showLimit})
	},
}

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "List the values available to set filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Options(cmd.Context())
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Display recent batch refresh runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Runs(cmd.Context(), runsLimit)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "Maximum rows to display (0 for all)")
	bindCriteriaFlags(showCmd, &showCriteria)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to display")
}
