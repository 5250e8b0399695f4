package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.tradervault.io/brokerlink/apps/linkctl/cmd/config"
	"go.tradervault.io/brokerlink/client"
	"go.tradervault.io/brokerlink/domain"
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "linkctl manages broker account links for the trading journal",
	Long:  `A command-line interface for linking broker accounts (Dhan, Zerodha): storing API credentials, running the consent flow, and renewing access tokens.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.InitConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "",
		fmt.Sprintf("config file (default is $HOME/.%s/config.yaml)", config.AppName))
}

// currentClient builds a client and resolves the user id from the active
// context.
func currentClient() (*client.Client, string, error) {
	ctx, err := config.GetCurrentContext()
	if err != nil {
		return nil, "", err
	}
	if ctx.UserID == "" {
		return nil, "", fmt.Errorf("context %q has no user_id", ctx.Name)
	}
	return client.NewClient(client.Config{BaseURL: ctx.ServerEndpoint}), ctx.UserID, nil
}

// parseBrokerArg validates the positional broker argument shared by the
// broker commands.
func parseBrokerArg(args []string) (domain.Broker, error) {
	return domain.ParseBroker(args[0])
}
