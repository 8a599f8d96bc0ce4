package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const programName = "presale-cli"

type globalOptions struct {
	endpoint string
	token    string
	timeout  time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           programName,
		Short:         "Operate and query a presaled instance",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", envOr("PRESALE_ENDPOINT", "http://localhost:8085"), "presaled base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PRESALE_TOKEN"), "owner bearer token for admin commands")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		statusCommand(opts),
		stageCommand(opts),
		quoteCommand(opts),
		buyCommand(opts),
		claimCommand(opts),
		purchasesCommand(opts),
		eventsCommand(opts),
		startCommand(opts),
		sweepCommand(opts),
		setTreasuryCommand(opts),
		registerCurrencyCommand(opts),
		exportCommand(opts),
		pauseCommand(opts, true),
		pauseCommand(opts, false),
		adminTokenCommand(),
	)
	return root
}

func (o *globalOptions) client() (*client, error) {
	return newClient(o.endpoint, o.token, o.timeout)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// printJSON writes the response indented for humans.
func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, werr := fmt.Fprintln(w, strings.TrimSpace(string(raw)))
		return werr
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
