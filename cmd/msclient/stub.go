package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
	"github.com/tychoish/mongosvc/stub"
)

const (
	flagListenHost = "listen-host"
	flagListenPort = "listen-port"
)

func stubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve an in-memory stand-in for the mongo service",
		Long: wrapString(`Serve create, retrieve, update, delete, and count from memory, answering
with the response shapes of the mongo service. Runs until interrupted.`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			svc := stub.NewMemoryService(viper.GetString(flagListenHost), viper.GetInt(flagListenPort))
			svc.RegisterErrorHandler(func(err error) {
				grip.Error(message.WrapError(err, "stub service"))
			})
			if err := svc.Start(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", svc.Address())
			<-ctx.Done()

			return svc.Close()
		},
	}

	cmd.Flags().String(flagListenHost, "127.0.0.1", wrapString("address to listen on"))
	cmd.Flags().Int(flagListenPort, 2000, wrapString("port to listen on; zero picks one"))

	return cmd
}
