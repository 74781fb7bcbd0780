// Package cmd - quote and plan commands
package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"autowatch/core/pricing"
	"autowatch/core/types"
	"autowatch/core/ui"
	apperrors "autowatch/internal/errors"
)

var (
	quoteAPI   bool
	quoteCycle string
)

// quoteCmd prices a subscription
var quoteCmd = &cobra.Command{
	Use:   "quote <vehicles>",
	Short: "Price a monitoring plan",
	Long: `Compute the subscription charge for a number of monitored vehicles.

Examples:
  autowatch quote 10
  autowatch quote 10 --api
  autowatch quote 250 --cycle yearly --json`,
	Args: cobra.ExactArgs(1),
	RunE: runQuote,
}

func init() {
	quoteCmd.Flags().BoolVar(&quoteAPI, "api", false, "include programmatic API access")
	quoteCmd.Flags().StringVarP(&quoteCycle, "cycle", "c", "monthly", "billing cycle (monthly, yearly)")
}

func parseVehicles(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, apperrors.InvalidArgument("vehicles must be an integer, got %q", arg)
	}
	return n, nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	vehicles, err := parseVehicles(args[0])
	if err != nil {
		return err
	}
	cycle, err := pricing.ParseBillingCycle(quoteCycle)
	if err != nil {
		return err
	}
	t, err := tariff()
	if err != nil {
		return err
	}

	res, err := pricing.NewCalculator(t).Calculate(pricing.Request{
		Quantity:     vehicles,
		IncludeAddOn: quoteAPI,
		BillingCycle: cycle,
	})
	if err != nil {
		return err
	}
	plan, err := t.PlanFor(vehicles)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(cmd, res)
	}

	s := writer(cmd).NewQuoteSummary()
	s.Plan = res.Plan
	s.Vehicles = vehicles
	s.Cycle = string(cycle)
	s.Amount = res.Money().Display()
	s.Monthly = types.NewMoney(res.Monthly, res.Currency).Display()
	s.AddOnBundled = res.AddOnBundled
	if res.AddOn.IsPositive() {
		s.AddOn = types.NewMoney(res.AddOn, res.Currency).Display()
	}
	s.CheckEvery = plan.Frequency.Label
	s.Retention = ui.FormatRetention(plan.Retention)
	s.Enterprise = res.Enterprise
	s.Render()
	return nil
}

// plansCmd lists plans
var plansCmd = &cobra.Command{
	Use:   "plans [vehicles]",
	Short: "List plans, or show the plan for a number of vehicles",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := tariff()
		if err != nil {
			return err
		}

		plans := t.Plans()
		if len(args) == 1 {
			vehicles, err := parseVehicles(args[0])
			if err != nil {
				return err
			}
			p, err := t.PlanFor(vehicles)
			if err != nil {
				return err
			}
			plans = []pricing.Plan{p}
		}

		if asJSON {
			return printJSON(cmd, plans)
		}

		tbl := writer(cmd).NewTable("Plan", "Vehicles", "Checks", "History")
		for _, p := range plans {
			tbl.AddRow(p.ID, vehicleRange(p.From, p.UpTo), p.Frequency.Label, ui.FormatRetention(p.Retention))
		}
		tbl.Render()
		return nil
	},
}

// tariffCmd prints the price table
var tariffCmd = &cobra.Command{
	Use:   "tariff",
	Short: "Print the price table",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := tariff()
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd, t.Table())
		}

		w := writer(cmd)
		tbl := w.NewTable("Plan", "Vehicles", "From", "To", "Per vehicle")
		tbl.AlignRight(3, 4, 5)
		for _, r := range t.Table() {
			rate := "-"
			if r.Rate.IsPositive() {
				rate = types.NewMoney(r.Rate, t.Currency).Display()
			}
			tbl.AddRow(r.Plan, vehicleRange(r.From, r.UpTo),
				types.NewMoney(r.PriceAtFrom, t.Currency).Display(),
				types.NewMoney(r.PriceAtUpTo, t.Currency).Display(),
				rate)
		}
		tbl.Render()

		w.Info("%s adds %s/month up to %d vehicles and is included above",
			t.AddOnName, types.NewMoney(t.AddOnPrice, t.Currency).Display(), t.AddOnMaxQuantity)
		w.Info("yearly billing is %d months less %s%%", t.AnnualMonths, t.AnnualDiscount.Shift(2).String())
		return nil
	},
}

func vehicleRange(from, upTo int) string {
	switch {
	case upTo == 0:
		return strconv.Itoa(from) + "+"
	case from == upTo:
		return strconv.Itoa(from)
	}
	return strconv.Itoa(from) + "-" + strconv.Itoa(upTo)
}
