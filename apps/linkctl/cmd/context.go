package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go.tradervault.io/brokerlink/apps/linkctl/cmd/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage linkctl configuration and contexts",
	Aliases: []string{"cfg"},
}

var getContextsCmd = &cobra.Command{
	Use:     "get-contexts",
	Short:   "Display one or many contexts",
	Aliases: []string{"get"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.GlobalConfig == nil || len(config.GlobalConfig.Contexts) == 0 {
			fmt.Println("No contexts defined.")
			return nil
		}
		out, err := yaml.Marshal(config.GlobalConfig.Contexts)
		if err != nil {
			return fmt.Errorf("failed to marshal contexts to YAML: %w", err)
		}
		fmt.Println(string(out))
		if config.GlobalConfig.CurrentContext != "" {
			fmt.Printf("Current context: %s\n", config.GlobalConfig.CurrentContext)
		} else {
			fmt.Println("No current context set.")
		}
		return nil
	},
}

var useContextCmd = &cobra.Command{
	Use:     "use-context [CONTEXT_NAME]",
	Short:   "Sets the current-context in the config file",
	Aliases: []string{"use"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextName := args[0]
		if config.GlobalConfig == nil {
			return errors.New("config not initialized")
		}
		if _, exists := config.GlobalConfig.Contexts[contextName]; !exists {
			return fmt.Errorf("context '%s' not found", contextName)
		}
		config.GlobalConfig.CurrentContext = contextName
		if err := config.SaveConfig(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Switched to context %q.\n", contextName)
		return nil
	},
}

var (
	setContextEndpoint string
	setContextUserID   string
)

var setContextCmd = &cobra.Command{
	Use:   "set-context [CONTEXT_NAME]",
	Short: "Creates or updates a context entry in the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextName := args[0]
		if config.GlobalConfig == nil {
			return errors.New("config not initialized")
		}

		ctx, exists := config.GlobalConfig.Contexts[contextName]
		if !exists {
			ctx = &config.Context{Name: contextName}
			config.GlobalConfig.Contexts[contextName] = ctx
		}
		if setContextEndpoint != "" {
			ctx.ServerEndpoint = setContextEndpoint
		}
		if setContextUserID != "" {
			ctx.UserID = setContextUserID
		}
		if config.GlobalConfig.CurrentContext == "" {
			config.GlobalConfig.CurrentContext = contextName
		}

		if err := config.SaveConfig(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Context %q saved.\n", contextName)
		return nil
	},
}

func init() {
	setContextCmd.Flags().StringVar(&setContextEndpoint, "endpoint", "", "Server endpoint, e.g. http://localhost:8080")
	setContextCmd.Flags().StringVar(&setContextUserID, "user", "", "User id the broker links belong to")

	configCmd.AddCommand(getContextsCmd, useContextCmd, setContextCmd)
	rootCmd.AddCommand(configCmd)
}
