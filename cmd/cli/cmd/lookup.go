// Package cmd - lookup, scrape and vehicle commands
package cmd

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"autowatch/adapters/registration"
	"autowatch/adapters/scraper"
	"autowatch/core/vehicle"
	"autowatch/internal/config"
	apperrors "autowatch/internal/errors"
)

// lookupCmd resolves a number plate
var lookupCmd = &cobra.Command{
	Use:   "lookup <registration>",
	Short: "Look up a vehicle by registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := config.Get().Registration
		l := registration.New(registration.Config{
			BaseURL: rc.BaseURL,
			APIKey:  rc.APIKey,
			Timeout: rc.Timeout,
		}, nil)

		w := writer(cmd)
		rec, err := withSpinner(cmd, "Looking up "+args[0], func(ctx context.Context) (registration.Record, error) {
			return l.Lookup(ctx, args[0])
		})
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd, rec)
		}
		if rec.Mock {
			w.Warning("registration API unavailable; showing sample data")
		}

		tbl := w.NewTable("Field", "Value")
		tbl.AddRow("Registration", rec.Registration)
		tbl.AddRow("Make", rec.Make)
		tbl.AddRow("Colour", rec.Colour)
		if rec.Year > 0 {
			tbl.AddRow("Year", strconv.Itoa(rec.Year))
		}
		if rec.EngineCapacity > 0 {
			tbl.AddRow("Engine", strconv.Itoa(rec.EngineCapacity)+"cc")
		}
		tbl.AddRow("Fuel", rec.FuelType)
		tbl.AddRow("Region", rec.Region)
		tbl.AddRow("MOT", rec.MOTStatus)
		tbl.AddRow("Tax", rec.TaxStatus)
		tbl.Render()
		return nil
	},
}

// scrapeCmd fetches one listing price
var scrapeCmd = &cobra.Command{
	Use:   "scrape <listing-url>",
	Short: "Fetch the asking price of a listing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		listingURL, v, err := vehicle.ParsePacked(args[0])
		if err != nil {
			return err
		}

		s := scraper.New(scraper.Config{
			Timeout:   cfg.Monitor.RequestTimeout,
			UserAgent: cfg.Monitor.UserAgent,
			Selector:  cfg.Monitor.PriceSelector,
			Currency:  cfg.Pricing.DisplayCurrency,
		})

		price, err := s.Price(cmd.Context(), listingURL)
		if err != nil {
			writer(cmd).Error("%s", err.Error())
			return err
		}

		if asJSON {
			return printJSON(cmd, map[string]interface{}{
				"url":      listingURL,
				"vehicle":  v,
				"price":    price.Amount,
				"currency": price.Currency,
			})
		}

		w := writer(cmd)
		if title := v.Title(); title != "" {
			w.Success("%s: %s", title, price.Display())
		} else {
			w.Success("%s", price.Display())
		}
		return nil
	},
}

var (
	vehiclePack bool
	vehicleData vehicle.Vehicle
	vehicleYear int
	vehicleMile int
	vehicleEng  string
)

// vehicleCmd decodes or builds a packed listing string
var vehicleCmd = &cobra.Command{
	Use:   "vehicle <listing>",
	Short: "Decode a packed listing string, or pack one with --pack",
	Long: `Decode the vehicle attributes carried in a listing string, or with --pack
build one from flags.

Examples:
  autowatch vehicle "https://cars.example/ad/1?make=Ford&year=2019&mileage=45000"
  autowatch vehicle https://cars.example/ad/1 --pack --make Ford --year 2019`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !vehiclePack {
			listingURL, v, err := vehicle.ParsePacked(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"url": listingURL, "vehicle": v})
		}

		v := vehicleData
		if vehicleYear > 0 {
			v.Year = vehicle.Int(vehicleYear)
		}
		if vehicleMile > 0 {
			v.Mileage = vehicle.Int(vehicleMile)
		}
		if vehicleEng != "" {
			litres, err := decimal.NewFromString(vehicleEng)
			if err != nil {
				return apperrors.InvalidArgument("engine must be a number of litres, got %q", vehicleEng)
			}
			v.EngineSize = &litres
		}
		if err := v.Validate(); err != nil {
			return err
		}
		packed, err := v.Pack(args[0])
		if err != nil {
			return err
		}
		writer(cmd).Println("%s", packed)
		return nil
	},
}

func init() {
	vehicleCmd.Flags().BoolVar(&vehiclePack, "pack", false, "pack flags into the listing string")
	vehicleCmd.Flags().StringVar(&vehicleData.Make, "make", "", "vehicle make")
	vehicleCmd.Flags().StringVar(&vehicleData.Model, "model", "", "vehicle model")
	vehicleCmd.Flags().StringVar(&vehicleData.Trim, "trim", "", "trim level")
	vehicleCmd.Flags().StringVar(&vehicleData.Color, "color", "", "colour")
	vehicleCmd.Flags().StringVar(&vehicleData.Registration, "registration", "", "number plate")
	vehicleCmd.Flags().IntVar(&vehicleYear, "year", 0, "model year")
	vehicleCmd.Flags().IntVar(&vehicleMile, "mileage", 0, "odometer reading")
	vehicleCmd.Flags().StringVar(&vehicleEng, "engine", "", "engine size in litres")
}

// withSpinner runs fn while a spinner is shown, unless JSON output is requested
func withSpinner[T any](cmd *cobra.Command, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	if asJSON {
		return fn(cmd.Context())
	}
	sp := writer(cmd).NewSpinner(label)
	sp.Start()
	v, err := fn(cmd.Context())
	sp.Stop(err == nil)
	return v, err
}
