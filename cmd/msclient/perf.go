package main

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tychoish/mongosvc/perf"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	flagClients    = "clients"
	flagIterations = "iterations"
	flagRate       = "rate"
	flagJSON       = "json"
	flagMetrics    = "metrics"
)

func perfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Run a create/retrieve/update/count/delete workload",
		Long: wrapString(`Run a workload of create, retrieve, update, count, and delete cycles
against the mongo service from several concurrent clients, then report per-action
latency percentiles.`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := clientConfig()
			if err != nil {
				return err
			}

			opts := perf.Options{
				Database:    viper.GetString(flagDatabase),
				Collection:  viper.GetString(flagCollection),
				Clients:     viper.GetInt(flagClients),
				Iterations:  viper.GetInt(flagIterations),
				Rate:        viper.GetFloat64(flagRate),
				SkipVersion: viper.GetBool(flagSkipVersion),
			}

			report, runErr := perf.Run(cmd.Context(), conf, opts)
			if report == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if viper.GetBool(flagJSON) {
				js, err := bson.MarshalExtJSON(report.Document(), false, false)
				if err != nil {
					return errors.Wrap(err, "rendering report")
				}
				if _, err := fmt.Fprintln(out, string(js)); err != nil {
					return err
				}
			} else if _, err := report.WriteTo(out); err != nil {
				return err
			}

			if viper.GetBool(flagMetrics) {
				fmt.Fprintln(out)
				metrics.WritePrometheus(out, false)
			}

			return runErr
		},
	}

	flags := cmd.Flags()
	flags.String(flagDatabase, "itest", wrapString("database for the workload"))
	flags.String(flagCollection, "perf", wrapString("collection for the workload"))
	flags.Int(flagClients, 4, wrapString("number of concurrent clients, each with its own connection"))
	flags.Int(flagIterations, 100, wrapString("cycles per client"))
	flags.Float64(flagRate, 0, wrapString("requests per second across all clients; zero is unpaced"))
	flags.Bool(flagSkipVersion, false, wrapString("do not record version history"))
	flags.Bool(flagJSON, false, wrapString("print the report as extended JSON"))
	flags.Bool(flagMetrics, false, wrapString("also print client metrics in Prometheus text format"))

	return cmd
}
