package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cdpchain/cmd/internal/secret"
	"cdpchain/crypto"
	"cdpchain/gateway/middleware"
)

const (
	envAPIURL     = "CDP_API_URL"
	envToken      = "CDP_TOKEN"
	envAuthSecret = "CDP_AUTH_SECRET"
)

var secretSource = secret.NewSource(envAuthSecret, "token signing secret")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type command struct {
	usage string
	run   func(args []string, stdout, stderr io.Writer) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"keygen":        {"keygen [-out key.hex]", runKeygen},
		"token":         {"token -sub <address> [-admin] [-ttl 24h] [-issuer cdp]", runToken},
		"protocol":      {"protocol", get(func(fs *flag.FlagSet) func() string { return func() string { return "/v1/protocol" } })},
		"protocol-init": {"protocol-init -stable-asset CUSD -stable-feed <feed> [-protocol-fee-bps ...]", runProtocolInit},
		"pool-init":     {"pool-init -asset SOL -feed <feed>", runPoolInit},
		"pool":          {"pool -asset SOL", get(assetPath("/v1/pools/%s"))},
		"quote":         {"quote -feed <feed> -price <mantissa> -expo <exponent> [-conf n]", runQuote},
		"withdraw":      {"withdraw [-recipient <address>]", runWithdraw},
		"open":          {"open -asset SOL -collateral <amount> -debt <amount>", runOpen},
		"close":         {"close -asset SOL", post(assetPath("/v1/positions/%s/close"))},
		"liquidate":     {"liquidate -asset SOL -owner <address>", post(assetOwnerPath("/v1/positions/%s/%s/liquidate"))},
		"rate-update":   {"rate-update", post(func(fs *flag.FlagSet) func() string { return func() string { return "/v1/rate/update" } })},
		"stake":         {"stake -asset SOL -amount <amount>", runStake},
		"unstake":       {"unstake -asset SOL", post(assetPath("/v1/stability/%s/unstake"))},
		"claim":         {"claim -asset SOL", post(assetPath("/v1/stability/%s/claim"))},
		"positions":     {"positions -asset SOL", get(assetPath("/v1/positions/%s"))},
		"position":      {"position -asset SOL -owner <address>", get(assetOwnerPath("/v1/positions/%s/%s"))},
		"health":        {"health -asset SOL -owner <address>", get(assetOwnerPath("/v1/positions/%s/%s/health"))},
		"stakes":        {"stakes -asset SOL", get(assetPath("/v1/stability/%s"))},
		"stake-info":    {"stake-info -asset SOL -owner <address>", get(assetOwnerPath("/v1/stability/%s/%s"))},
		"balance":       {"balance -owner <address> -asset CUSD", get(ownerAssetPath("/v1/balances/%s/%s"))},
		"events":        {"events [-type cdp.positionLiquidated] [-asset SOL] [-limit 100]", runEvents},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
	if err := cmd.run(args[1:], stdout, stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: cdp-cli <command> [flags]")
	fmt.Fprintln(w, "Every API command accepts -api (default $"+envAPIURL+") and -token (default $"+envToken+").")
	for _, name := range []string{
		"keygen", "token", "protocol-init", "pool-init", "quote", "withdraw",
		"open", "close", "liquidate", "rate-update", "stake", "unstake", "claim",
		"protocol", "pool", "positions", "position", "health", "stakes", "stake-info", "balance", "events",
	} {
		fmt.Fprintln(w, "  "+commands[name].usage)
	}
}

// apiFlags registers the connection flags shared by every API command.
func apiFlags(name string, stderr io.Writer) (*flag.FlagSet, func() *apiClient) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	base := os.Getenv(envAPIURL)
	if base == "" {
		base = "http://localhost:8080"
	}
	api := fs.String("api", base, "node API base URL")
	token := fs.String("token", os.Getenv(envToken), "bearer token")
	return fs, func() *apiClient { return newAPIClient(*api, *token) }
}

func required(values map[string]string) error {
	for flagName, value := range values {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("-%s is required", flagName)
		}
	}
	return nil
}

type pathBuilder func(fs *flag.FlagSet) func() string

func assetPath(format string) pathBuilder {
	return func(fs *flag.FlagSet) func() string {
		asset := fs.String("asset", "", "collateral asset")
		return func() string { return fmt.Sprintf(format, url.PathEscape(*asset)) }
	}
}

func assetOwnerPath(format string) pathBuilder {
	return func(fs *flag.FlagSet) func() string {
		asset := fs.String("asset", "", "collateral asset")
		owner := fs.String("owner", "", "position or stake owner")
		return func() string { return fmt.Sprintf(format, url.PathEscape(*asset), url.PathEscape(*owner)) }
	}
}

func ownerAssetPath(format string) pathBuilder {
	return func(fs *flag.FlagSet) func() string {
		owner := fs.String("owner", "", "account")
		asset := fs.String("asset", "", "asset")
		return func() string { return fmt.Sprintf(format, url.PathEscape(*owner), url.PathEscape(*asset)) }
	}
}

func get(build pathBuilder) func([]string, io.Writer, io.Writer) error {
	return request(http.MethodGet, build)
}

func post(build pathBuilder) func([]string, io.Writer, io.Writer) error {
	return request(http.MethodPost, build)
}

func request(method string, build pathBuilder) func([]string, io.Writer, io.Writer) error {
	return func(args []string, stdout, stderr io.Writer) error {
		fs, client := apiFlags(method, stderr)
		path := build(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		p := path()
		if strings.Contains(p, "//") || strings.HasSuffix(p, "/") {
			return errors.New("missing path flags; see usage")
		}
		return client().call(method, p, nil, stdout)
	}
}

func runKeygen(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "write the hex private key to this file (0600)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	encoded := hex.EncodeToString(key.Bytes())
	if *out != "" {
		if err := os.WriteFile(*out, []byte(encoded+"\n"), 0o600); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "address: %s\nkey written to %s\n", key.PubKey().Address(), *out)
		return nil
	}
	fmt.Fprintf(stdout, "address: %s\nprivate key: %s\n", key.PubKey().Address(), encoded)
	return nil
}

func runToken(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("sub", "", "caller address the token authenticates")
	admin := fs.Bool("admin", false, "grant the "+middleware.ScopeAdmin+" scope")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	issuer := fs.String("issuer", "", "issuer claim; must match [auth].issuer when set")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.DecodeAddress(*subject)
	if err != nil {
		return fmt.Errorf("-sub: %w", err)
	}
	signing, err := secretSource.Get()
	if err != nil {
		return err
	}
	var scopes []string
	if *admin {
		scopes = append(scopes, middleware.ScopeAdmin)
	}
	token, err := middleware.IssueToken(signing, addr, scopes, *issuer, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func runProtocolInit(args []string, stdout, stderr io.Writer) error {
	fs, client := apiFlags("protocol-init", stderr)
	protocolFee := fs.Uint64("protocol-fee-bps", 100, "protocol fee")
	redemptionFee := fs.Uint64("redemption-fee-bps", 50, "redemption fee")
	mintFee := fs.Uint64("mint-fee-bps", 50, "mint fee")
	baseRate := fs.Uint64("base-rate-bps", 500, "base annual interest rate")
	sigma := fs.Uint64("sigma-bps", 1_000, "rate sensitivity to peg deviation")
	stableAsset := fs.String("stable-asset", "", "stablecoin asset id")
	stableFeed := fs.String("stable-feed", "", "stablecoin price feed id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"stable-asset": *stableAsset, "stable-feed": *stableFeed}); err != nil {
		return err
	}
	return client().call(http.MethodPost, "/v1/protocol/init", map[string]any{
		"protocolFeeBps":   *protocolFee,
		"redemptionFeeBps": *redemptionFee,
		"mintFeeBps":       *mintFee,
		"baseRateBps":      *baseRate,
		"sigmaBps":         *sigma,
		"stablecoinAsset":  *stableAsset,
		"stablecoinFeed":   *stableFeed,
	}, stdout)
}

func runPoolInit(args []string, stdout, stderr io.Writer) error {
	fs, client := apiFlags("pool-init", stderr)
	asset := fs.String("asset", "", "collateral asset id")
	feed := fs.String("feed", "", "collateral price feed id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"asset": *asset, "feed": *feed}); err != nil {
		return err
	}
	return client().call(http.MethodPost, "/v1/pools", map[string]string{"asset": *asset, "priceFeed": *feed}, stdout)
}

func runQuote(args []string, stdout, stderr io.Writer) error {
	fs, client := apiFlags("quote", stderr)
	feed := fs.String("feed", "", "price feed id")
	price := fs.Int64("price", 0, "price mantissa")
	expo := fs.Int("expo", -6, "price exponent")
	conf := fs.Uint64("conf", 0, "confidence interval mantissa")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"feed": *feed}); err != nil {
		return err
	}
	return client().call(http.MethodPost, "/v1/oracle/quotes", map[string]any{
		"feed":  *feed,
		"price": *price,
		"expo":  *expo,
		"conf":  *conf,
	}, stdout)
}

func runWithdraw(args []string, stdout, stderr io.Writer) error {
	fs, client := apiFlags("withdraw", stderr)
	recipient := fs.String("recipient", "", "treasury recipient; defaults to the caller")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return client().call(http.MethodPost, "/v1/treasury/withdraw", map[string]string{"recipient": *recipient}, stdout)
}

func runOpen(args []string, stdout, stderr io.Writer) error {
	fs, client := apiFlags("open", stderr)
	asset := fs.String("asset", "", "collateral asset")
	collateral := fs.String("collateral", "", "collateral amount (base units)")
	debt := fs.String("debt", "", "stablecoin to mint (base units)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"asset": *asset, "collateral": *collateral, "debt": *debt}); err != nil {
		return err
	}
	return client().call(http.MethodPost, "/v1/positions/"+url.PathEscape(*asset)+"/open",
		map[string]string{"collateral": *collateral, "debt": *debt}, stdout)
}

func runStake(args []string, stdout, stderr io.Writer) error {
	fs, client := apiFlags("stake", stderr)
	asset := fs.String("asset", "", "collateral pool to back")
	amount := fs.String("amount", "", "stablecoin to stake (base units)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"asset": *asset, "amount": *amount}); err != nil {
		return err
	}
	return client().call(http.MethodPost, "/v1/stability/"+url.PathEscape(*asset)+"/stake",
		map[string]string{"amount": *amount}, stdout)
}

func runEvents(args []string, stdout, stderr io.Writer) error {
	fs, client := apiFlags("events", stderr)
	eventType := fs.String("type", "", "event type filter")
	asset := fs.String("asset", "", "asset filter")
	owner := fs.String("owner", "", "owner filter")
	limit := fs.Int("limit", 100, "maximum events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := url.Values{}
	for key, value := range map[string]string{"type": *eventType, "asset": *asset, "owner": *owner} {
		if value != "" {
			q.Set(key, value)
		}
	}
	q.Set("limit", fmt.Sprint(*limit))
	return client().call(http.MethodGet, "/v1/events?"+q.Encode(), nil, stdout)
}
