package cli

import (
	"github.com/spf13/cobra"
)

var (
	couponsForce  bool
	ratingBoard   string
	ratingRefresh bool
)

var couponsCmd = &cobra.Command{
	Use:   "coupons SECID",
	Short: "Print the coupon, amortization and offer schedule of a bond",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Coupons(cmd.Context(), args[0], couponsForce)
	},
}

var ratingCmd = &cobra.Command{
	Use:   "rating SECID",
	Short: "Print the credit ratings of a bond's issuer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rating(cmd.Context(), args[0], ratingBoard, ratingRefresh)
	},
}

var issuerCmd = &cobra.Command{
	Use:   "issuer SECID",
	Short: "Print the issuer of a bond",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Issuer(cmd.Context(), args[0])
	},
}

func init() {
	couponsCmd.Flags().BoolVar(&couponsForce, "force", false, "Refetch even when the cached schedule is fresh")
	ratingCmd.Flags().StringVar(&ratingBoard, "board", "", "Trading board (defaults to the bond's board in the snapshot)")
	ratingCmd.Flags().BoolVar(&ratingRefresh, "refresh", false, "Fetch when missing or stale instead of returning the cached value")
}
