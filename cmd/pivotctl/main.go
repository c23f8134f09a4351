// Command pivotctl queries the pivot backend from the terminal, through the same client (and
// with the same cancellation and timeout rules) as the pivot widget.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"hermannm.dev/pivot/config"
	"hermannm.dev/pivot/logging"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/pivot/region"
	"hermannm.dev/wrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand(config.ReadClientFromEnv).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

type app struct {
	config  config.Client
	client  *pivot.Client
	regions *region.Filter

	apiURL     string
	pageURL    string
	regionCode string
	format     string
	retry      bool
}

func newRootCommand(loadConfig func() (config.Client, error)) *cobra.Command {
	app := &app{}

	rootCmd := &cobra.Command{
		Use:   "pivotctl",
		Short: "Query the pivot table backend",
		Long: `pivotctl fetches the pivot catalog, runs pivot queries and lists dimension
values against the pivot backend.

The backend URL and query timeouts are read from the environment (or a .env
file), and can be overridden with flags.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return app.setup(cmd, loadConfig)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if app.client != nil {
				app.client.Close()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.apiURL, "api-url", "", "Base URL of the pivot API (overrides PIVOT_API_URL)")
	flags.StringVar(&app.pageURL, "page-url", "", "Page URL whose reg parameter forces a region, as when embedded")
	flags.StringVar(&app.regionCode, "region", "", "Region code to force on all queries (overrides PIVOT_REGION)")
	flags.StringVarP(&app.format, "format", "f", formatTable, "Output format: table, json")
	flags.BoolVar(&app.retry, "retry", false, "Wait and retry once when the server asks to retry later")

	rootCmd.AddCommand(newCatalogCommand(app))
	rootCmd.AddCommand(newQueryCommand(app))
	rootCmd.AddCommand(newValuesCommand(app))
	rootCmd.AddCommand(newSearchCommand(app))

	return rootCmd
}

func (app *app) setup(cmd *cobra.Command, loadConfig func() (config.Client, error)) error {
	if app.format != formatTable && app.format != formatJSON {
		return fmt.Errorf("unsupported output format '%s'", app.format)
	}

	conf, err := loadConfig()
	if err != nil {
		return wrap.Error(err, "failed to read config from env")
	}
	logging.Setup(cmd.ErrOrStderr(), conf.LogLevel, conf.IsProduction)

	if app.apiURL != "" {
		conf.APIURL = app.apiURL
	}
	if app.regionCode != "" {
		conf.Region = app.regionCode
	}

	app.regions = region.NewFilter()
	if app.pageURL != "" {
		app.regions.SetFromURL(app.pageURL)
	}
	if conf.Region != "" {
		if err := app.regions.Set(conf.Region); err != nil {
			return err
		}
	}

	app.config = conf
	app.client = pivot.NewClient(
		conf.APIURL,
		pivot.WithOrigin(conf.Origin),
		pivot.WithTimeoutPolicy(conf.Timeouts.Policy()),
		pivot.WithRegionSource(app.regions),
	)
	return nil
}
