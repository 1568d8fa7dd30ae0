package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"bond-screener/internal/app"
)

var refreshForce bool

var refreshCmd = &cobra.Command{
	Use:       "refresh " + strings.Join(app.RefreshKinds, "|"),
	Short:     "Run one batch refresh now",
	Args:      cobra.ExactArgs(1),
	ValidArgs: app.RefreshKinds,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !slices.Contains(app.RefreshKinds, args[0]) {
			return fmt.Errorf("unknown refresh kind %q, want one of %s", args[0], strings.Join(app.RefreshKinds, ", "))
		}
		return getApp().Refresh(cmd.Context(), args[0], refreshForce)
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "Refetch entries that are still fresh (ratings, coupons)")
}
