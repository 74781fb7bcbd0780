// Package cmd - tariff file management (operator only)
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"autowatch/core/pricing"
	"autowatch/core/ui"
	apperrors "autowatch/internal/errors"
)

var tariffForce bool

var tariffCheckCmd = &cobra.Command{
	Use:   "check <tariff-file>",
	Short: "Validate a tariff file",
	Long: `Parse and validate a tariff file without using it.

Bands must be contiguous and prices non-decreasing at every band edge.
Run this before pointing pricing.tariff_file at a new file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := pricing.Load(args[0])
		if err != nil {
			writer(cmd).Error("%s", err.Error())
			return err
		}

		w := writer(cmd)
		w.Success("%s is valid", args[0])
		tbl := w.NewTable("Plan", "Vehicles", "Checks", "History")
		for _, p := range t.Plans() {
			tbl.AddRow(p.ID, vehicleRange(p.From, p.UpTo), p.Frequency.Label, ui.FormatRetention(p.Retention))
		}
		tbl.Render()
		return nil
	},
}

var tariffExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the built-in tariff as HCL",
	Long: `Write the built-in tariff to a file, or to stdout when no file is given.

An existing file is never overwritten unless --force is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := pricing.DefaultSource()
		if len(args) == 0 {
			_, err := cmd.OutOrStdout().Write(src)
			return err
		}

		path := args[0]
		if _, err := os.Stat(path); err == nil && !tariffForce {
			return apperrors.InvalidArgument("%s already exists (use --force to overwrite)", path)
		}
		if err := os.WriteFile(path, src, 0644); err != nil {
			return apperrors.Config("failed to write "+path, err)
		}
		writer(cmd).Success("wrote %s", path)
		return nil
	},
}

func init() {
	tariffCmd.AddCommand(tariffCheckCmd)
	tariffCmd.AddCommand(tariffExportCmd)
	tariffExportCmd.Flags().BoolVar(&tariffForce, "force", false, "overwrite an existing file")
}
