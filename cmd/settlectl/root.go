package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/GoPolymarket/settlegate/internal/signer"
	"github.com/GoPolymarket/settlegate/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "settlectl",
	Short: "Signed command line access to the SettleGate platform API",
	Long: `settlectl signs and sends platform API requests.

Credentials come from flags or from SETTLECTL_URL, SETTLECTL_PLATFORM,
SETTLECTL_SECRET and SETTLECTL_ENCODING.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("url", "http://localhost:8080", "SettleGate base URL")
	flags.String("platform", "", "platform id (X-Platform-Token)")
	flags.String("secret", "", "platform signing secret")
	flags.String("encoding", string(signer.EncodingHex), "signature encoding: hex or base64")

	for _, name := range []string{"url", "platform", "secret", "encoding"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetEnvPrefix("settlectl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(balanceCmd, depositCmd, withdrawCmd, transactionsCmd, signCmd)
}

func newClient() (*client.Client, error) {
	platform := viper.GetString("platform")
	secret := viper.GetString("secret")
	if platform == "" || secret == "" {
		return nil, fmt.Errorf("--platform and --secret are required")
	}
	enc, err := signer.ParseEncoding(viper.GetString("encoding"))
	if err != nil {
		return nil, err
	}
	return client.New(viper.GetString("url"), platform, secret, client.WithEncoding(enc)), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
