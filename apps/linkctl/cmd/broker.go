package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"go.tradervault.io/brokerlink/client"
	"go.tradervault.io/brokerlink/domain"
)

// openBrowser starts the platform browser. Failures are recoverable: the
// login URL is printed so the user can open it by hand.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		fmt.Printf("Could not open a browser. Visit this URL to log in:\n  %s\n", url)
	}
	return nil
}

func newLinker(broker domain.Broker) (*client.Linker, error) {
	api, userID, err := currentClient()
	if err != nil {
		return nil, err
	}
	return client.NewLinker(api, userID, broker, openBrowser), nil
}

func prompt(label string) string {
	fmt.Printf("%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

var statusCmd = &cobra.Command{
	Use:   "status [BROKER]",
	Short: "Show the linking status for a broker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		broker, err := parseBrokerArg(args)
		if err != nil {
			return err
		}
		linker, err := newLinker(broker)
		if err != nil {
			return err
		}
		if err := linker.Refresh(cmd.Context()); err != nil {
			return err
		}

		state := linker.State()
		fmt.Printf("Broker:       %s\n", state.Broker)
		fmt.Printf("Phase:        %s\n", state.Phase)
		fmt.Printf("Credentials:  %v\n", state.HasCredentials)
		if state.ClientID != "" {
			fmt.Printf("Client ID:    %s\n", state.ClientID)
		}
		if state.ClientName != "" {
			fmt.Printf("Client name:  %s\n", state.ClientName)
		}
		if !state.AccessTokenExpiry.IsZero() {
			fmt.Printf("Token expiry: %s\n", state.AccessTokenExpiry.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var saveCredentialsCmd = &cobra.Command{
	Use:   "save-credentials [BROKER]",
	Short: "Store API key, secret, and client id for a broker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		broker, err := parseBrokerArg(args)
		if err != nil {
			return err
		}
		linker, err := newLinker(broker)
		if err != nil {
			return err
		}

		apiKey := prompt("API key")
		apiSecret := prompt("API secret")
		clientID := prompt("Client ID")
		linker.EnterCredentials(apiKey, apiSecret, clientID)

		if err := linker.SaveCredentials(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Credentials saved. Run 'linkctl connect' to authenticate.")
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect [BROKER]",
	Short: "Run the consent flow: open the broker login and exchange the token id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		broker, err := parseBrokerArg(args)
		if err != nil {
			return err
		}
		linker, err := newLinker(broker)
		if err != nil {
			return err
		}
		if err := linker.Refresh(cmd.Context()); err != nil {
			return err
		}

		if err := linker.StartAuth(cmd.Context()); err != nil {
			return err
		}

		fmt.Println("Log in to your broker in the opened page, then copy the token id from the redirect URL.")
		linker.EnterTokenID(prompt("Token id"))

		if err := linker.CompleteAuth(cmd.Context()); err != nil {
			return err
		}

		state := linker.State()
		fmt.Printf("Linked %s account %s", broker, state.ClientID)
		if state.ClientName != "" {
			fmt.Printf(" (%s)", state.ClientName)
		}
		fmt.Println(".")
		return nil
	},
}

var renewCmd = &cobra.Command{
	Use:   "renew [BROKER]",
	Short: "Renew the broker access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		broker, err := parseBrokerArg(args)
		if err != nil {
			return err
		}
		linker, err := newLinker(broker)
		if err != nil {
			return err
		}
		if err := linker.Refresh(cmd.Context()); err != nil {
			return err
		}

		if err := linker.RenewToken(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Token renewed, expires %s.\n", linker.State().AccessTokenExpiry.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect [BROKER]",
	Short: "Remove the stored broker link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		broker, err := parseBrokerArg(args)
		if err != nil {
			return err
		}
		api, userID, err := currentClient()
		if err != nil {
			return err
		}

		if err := api.Disconnect(cmd.Context(), userID, broker); err != nil {
			return err
		}
		fmt.Printf("Disconnected %s.\n", broker)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, saveCredentialsCmd, connectCmd, renewCmd, disconnectCmd)
}
