package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tychoish/mongosvc"
)

const (
	flagHost            = "host"
	flagPort            = "port"
	flagApplication     = "application"
	flagDialTimeout     = "dial-timeout"
	flagRequestTimeout  = "request-timeout"
	flagMaxResponseSize = "max-response-size"

	wrapWidth = 60
)

// wrapString reflows help text to wrapWidth columns.
func wrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > wrapWidth {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}

	return strings.Join(lines, "\n")
}

func setupClientFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String(flagHost, "localhost", wrapString("host of the mongo service"))
	flags.Int(flagPort, 2000, wrapString("port of the mongo service"))
	flags.String(flagApplication, "msclient", wrapString("name of the calling application"))
	flags.Duration(flagDialTimeout, mongosvc.DefaultDialTimeout, wrapString("how long to wait for the connection to open"))
	flags.Duration(flagRequestTimeout, 0, wrapString("bound on each exchange; zero waits indefinitely"))
	flags.Int(flagMaxResponseSize, mongosvc.DefaultMaxResponseSize, wrapString("largest response frame accepted, in bytes"))
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("msclient")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func processConfig(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func clientConfig() (mongosvc.Config, error) {
	conf := mongosvc.NewConfig(viper.GetString(flagHost), viper.GetInt(flagPort), viper.GetString(flagApplication))
	conf.DialTimeout = viper.GetDuration(flagDialTimeout)
	conf.RequestTimeout = viper.GetDuration(flagRequestTimeout)
	conf.MaxResponseSize = viper.GetInt(flagMaxResponseSize)

	return conf, conf.Validate()
}
