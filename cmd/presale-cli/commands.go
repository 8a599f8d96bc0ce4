package main

import (
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"gepspresale/services/presaled/server"
)

// request runs a single API call and prints the JSON response.
func request(cmd *cobra.Command, opts *globalOptions, method, path string, body interface{}) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	raw, err := c.call(cmd.Context(), method, path, body)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}

func statusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sale phase, stages and totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, opts, http.MethodGet, "/v1/presale", nil)
		},
	}
}

func stageCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <index>",
		Short: "Show a single stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil || index < 0 {
				return fmt.Errorf("stage index must be a non-negative integer")
			}
			return request(cmd, opts, http.MethodGet, "/v1/presale/stages/"+strconv.Itoa(index), nil)
		},
	}
}

func quoteCommand(opts *globalOptions) *cobra.Command {
	var tokens, currency string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote the payment needed for a token amount at the current stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireAmount("tokens", tokens); err != nil {
				return err
			}
			query := url.Values{"tokens": {tokens}, "currency": {currency}}
			return request(cmd, opts, http.MethodGet, "/v1/presale/quote?"+query.Encode(), nil)
		},
	}
	cmd.Flags().StringVar(&tokens, "tokens", "", "token amount in base units")
	cmd.Flags().StringVar(&currency, "currency", "", "payment currency symbol")
	_ = cmd.MarkFlagRequired("tokens")
	_ = cmd.MarkFlagRequired("currency")
	return cmd
}

func buyCommand(opts *globalOptions) *cobra.Command {
	var buyer, amount, currency string
	var byTokens bool
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy tokens, spending --amount of --currency (or receiving --amount tokens with --tokens)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireAddress("buyer", buyer); err != nil {
				return err
			}
			if err := requireAmount("amount", amount); err != nil {
				return err
			}
			denomination := "payment"
			if byTokens {
				denomination = "tokens"
			}
			return request(cmd, opts, http.MethodPost, "/v1/presale/buy", map[string]string{
				"buyer":        buyer,
				"amount":       amount,
				"currency":     currency,
				"denomination": denomination,
			})
		},
	}
	cmd.Flags().StringVar(&buyer, "buyer", "", "buyer address")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in base units")
	cmd.Flags().StringVar(&currency, "currency", "", "payment currency symbol")
	cmd.Flags().BoolVar(&byTokens, "tokens", false, "treat --amount as the token amount to receive")
	_ = cmd.MarkFlagRequired("buyer")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("currency")
	return cmd
}

func claimCommand(opts *globalOptions) *cobra.Command {
	var buyer string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Release purchased tokens once the claim window is open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireAddress("buyer", buyer); err != nil {
				return err
			}
			return request(cmd, opts, http.MethodPost, "/v1/presale/claim", map[string]string{"buyer": buyer})
		},
	}
	cmd.Flags().StringVar(&buyer, "buyer", "", "buyer address")
	_ = cmd.MarkFlagRequired("buyer")
	return cmd
}

func purchasesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purchases <address>",
		Short: "Show a buyer's purchase record and receipts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAddress("address", args[0]); err != nil {
				return err
			}
			return request(cmd, opts, http.MethodGet, "/v1/presale/purchases/"+args[0], nil)
		},
	}
}

func eventsCommand(opts *globalOptions) *cobra.Command {
	var limit int
	var after uint64
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List journaled sale events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if after > 0 {
				query.Set("after", strconv.FormatUint(after, 10))
			}
			path := "/v1/presale/events"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}
			return request(cmd, opts, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events")
	cmd.Flags().Uint64Var(&after, "after", 0, "only events with a greater id")
	return cmd
}

func startCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Open the sale (owner)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, opts, http.MethodPost, "/v1/admin/start", nil)
		},
	}
}

func sweepCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Transfer unsold tokens to the treasury after the sale (owner)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, opts, http.MethodPost, "/v1/admin/sweep", nil)
		},
	}
}

func setTreasuryCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-treasury <address>",
		Short: "Change the treasury address (owner)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAddress("address", args[0]); err != nil {
				return err
			}
			return request(cmd, opts, http.MethodPost, "/v1/admin/treasury", map[string]string{"address": args[0]})
		},
	}
}

func exportCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the receipt ledger to CSV and Parquet on the server (owner)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, opts, http.MethodPost, "/v1/admin/export", nil)
		},
	}
}

func registerCurrencyCommand(opts *globalOptions) *cobra.Command {
	var decimals uint8
	var native bool
	var feed string
	cmd := &cobra.Command{
		Use:   "register-currency <symbol>",
		Short: "Accept a payment currency (owner)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return request(cmd, opts, http.MethodPost, "/v1/admin/currencies", map[string]interface{}{
				"symbol":   strings.ToUpper(strings.TrimSpace(args[0])),
				"decimals": decimals,
				"native":   native,
				"feed":     feed,
			})
		},
	}
	cmd.Flags().Uint8Var(&decimals, "decimals", 18, "currency base-unit decimals")
	cmd.Flags().BoolVar(&native, "native", false, "settle with a plain transfer instead of approve/transferFrom")
	cmd.Flags().StringVar(&feed, "feed", "", "price feed identifier")
	return cmd
}

func pauseCommand(opts *globalOptions, pause bool) *cobra.Command {
	use, short, path := "pause", "Pause buying and claiming (owner)", "/v1/admin/pause"
	if !pause {
		use, short, path = "resume", "Resume buying and claiming (owner)", "/v1/admin/resume"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, opts, http.MethodPost, path, nil)
		},
	}
}

func adminTokenCommand() *cobra.Command {
	var owner, secret, issuer, audience string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint an owner bearer token from the shared secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireAddress("owner", owner); err != nil {
				return err
			}
			token, err := server.IssueToken(server.AuthConfig{
				Secret:   secret,
				Issuer:   issuer,
				Audience: audience,
			}, common.HexToAddress(owner), ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address (token subject)")
	cmd.Flags().StringVar(&secret, "secret", envOr("PRESALE_AUTH_JWT_SECRET", ""), "HS256 shared secret")
	cmd.Flags().StringVar(&issuer, "issuer", "presaled", "token issuer")
	cmd.Flags().StringVar(&audience, "audience", "", "token audience")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func requireAddress(name, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) || common.HexToAddress(trimmed) == (common.Address{}) {
		return fmt.Errorf("--%s must be a non-zero hex address", name)
	}
	return nil
}

func requireAmount(name, raw string) error {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() <= 0 {
		return fmt.Errorf("--%s must be a positive integer", name)
	}
	return nil
}
