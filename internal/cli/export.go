package cli

import (
	"github.com/spf13/cobra"

	"bond-screener/internal/app"
)

var (
	exportPNGPath  string
	exportCSVPath  string
	exportMaxRows  int
	exportCriteria criteriaFlags
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export matching bonds as CSV and/or a yield-duration PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria, err := exportCriteria.criteria(cmd)
		if err != nil {
			return err
		}
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Criteria: criteria,
			PNGPath:  exportPNGPath,
			CSVPath:  exportCSVPath,
			MaxRows:  exportMaxRows,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum rows to export (defaults to config)")
	bindCriteriaFlags(exportCmd, &exportCriteria)
}
