package cmd

import (
	"time"

	"github.com/runninghub-studio/studio/internal/client"
	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/logger"
	"github.com/runninghub-studio/studio/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries what the persistent pre-run prepared for the subcommands.
type app struct {
	configFile string
	output     string
	v          *viper.Viper
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "studio",
		Short: "RunningHub workflow proxy and render client",
		Long: `studio proxies image workflows to RunningHub and drives them from the terminal.

"studio serve" runs the HTTP proxy that holds the RunningHub credentials.
The other commands talk to a running proxy and keep history, render jobs,
points and the sign-in session in a local state file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.Load(a.configFile)
			if err != nil {
				return err
			}
			flags := cmd.Root().PersistentFlags()
			for key, name := range map[string]string{
				"client.server": "server",
				"client.apiKey": "api-key",
				"client.state":  "state",
				"debug":         "debug",
			} {
				if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
					return err
				}
			}
			v.SetDefault("client.pollInterval", 2*time.Second)
			v.SetDefault("client.timeout", 10*time.Minute)
			a.v = v
			return logger.Setup(v.GetBool("server.production"), v.GetBool("debug"))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (default ./config.yaml)")
	flags.String("server", client.DefaultBaseURL, "studio server base URL")
	flags.String("api-key", "", "API-KEY header for a protected server")
	flags.String("state", store.DefaultPath, "local state file")
	flags.Bool("debug", false, "log at debug level")
	flags.StringVarP(&a.output, "output", "o", outputTable, "listing format: table, json or yaml")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newPingCmd(a))
	cmd.AddCommand(newGenerateCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newJobsCmd(a))
	cmd.AddCommand(newPointsCmd(a))
	cmd.AddCommand(newLoginCmd(a))
	cmd.AddCommand(newLogoutCmd(a))
	return cmd
}

func (a *app) client() *client.Client {
	apiKey := a.v.GetString("client.apiKey")
	if apiKey == "" {
		apiKey = a.v.GetString("server.apiKey")
	}
	return client.NewClient(client.Options{
		BaseURL: a.v.GetString("client.server"),
		APIKey:  apiKey,
	})
}

func (a *app) store() (*store.Store, error) {
	return store.Open(a.v.GetString("client.state"))
}

// account is the signed-in account of st.
func account(st *store.Store) (string, error) {
	return st.Auth.AccountID()
}
