package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var signCmd = &cobra.Command{
	Use:   "sign <method> <request-uri>",
	Short: "Print authentication headers for a request",
	Long: `Print the X-Platform-Token, X-Timestamp, X-Nonce and X-Signature headers
for a request, as curl -H arguments. The request URI is the path plus query
exactly as sent. The body is read from --body, or from stdin with --body -.`,
	Example: `  settlectl sign GET /v1/platforms/casino/users/u-1/balance
  echo '{"platformUserId":"u-1"}' | settlectl sign POST /v1/platforms/casino/deposits --body -`,
	Args: cobra.ExactArgs(2),
	RunE: runSign,
}

func init() {
	signCmd.Flags().String("body", "", "request body, or - for stdin")
}

func runSign(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	method := strings.ToUpper(args[0])
	uri := args[1]
	if !strings.HasPrefix(uri, "/") {
		return fmt.Errorf("request uri must start with /")
	}

	raw, _ := cmd.Flags().GetString("body")
	body := []byte(raw)
	if raw == "-" {
		if body, err = io.ReadAll(os.Stdin); err != nil {
			return err
		}
	}

	headers, err := c.SignHeaders(method, uri, body)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "-H '%s: %s'\n", http.CanonicalHeaderKey(k), headers.Get(k))
	}
	return nil
}
