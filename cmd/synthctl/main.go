package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultEndpoint = "http://localhost:7080"

	envEndpoint     = "SYNTHD_URL"
	envAdminToken   = "SYNTHCTL_ADMIN_TOKEN"
	envJWTSecret    = "SYNTHD_JWT_SECRET"
	envUserKey      = "SYNTHCTL_KEY"
	envKeystorePass = "SYNTHCTL_KEYSTORE_PASS"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	endpoint := defaultEndpointFromEnv()
	args, endpoint, err := applyGlobalFlags(args, endpoint)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprint(stderr, usage())
		return 1
	}
	cli := newClient(endpoint)
	switch strings.ToLower(args[0]) {
	case "authorities":
		return runAuthoritiesCommand(args[1:], stdout, stderr)
	case "keygen":
		return runKeygenCommand(args[1:], stdout, stderr)
	case "token":
		return runTokenCommand(args[1:], stdout, stderr)
	case "init":
		return runInitCommand(cli, args[1:], stdout, stderr)
	case "pause":
		return runPauseCommand(cli, true, args[1:], stdout, stderr)
	case "unpause":
		return runPauseCommand(cli, false, args[1:], stdout, stderr)
	case "set-fee":
		return runParamCommand(cli, "fee-rate", args[1:], stdout, stderr)
	case "set-min-collateral":
		return runParamCommand(cli, "min-collateral", args[1:], stdout, stderr)
	case "mint":
		return runOperationCommand(cli, "mint", args[1:], stdout, stderr)
	case "burn":
		return runOperationCommand(cli, "burn", args[1:], stdout, stderr)
	case "quote":
		return runQuoteCommand(cli, args[1:], stdout, stderr)
	case "status":
		return runStatusCommand(cli, args[1:], stdout, stderr)
	case "events":
		return runEventsCommand(cli, args[1:], stdout, stderr)
	case "export":
		return runExportCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n", args[0])
		fmt.Fprint(stderr, usage())
		return 1
	}
}

func defaultEndpointFromEnv() string {
	if v := strings.TrimSpace(os.Getenv(envEndpoint)); v != "" {
		return v
	}
	return defaultEndpoint
}

// applyGlobalFlags strips --endpoint before the subcommand.
func applyGlobalFlags(args []string, endpoint string) ([]string, string, error) {
	for len(args) > 0 {
		arg := args[0]
		switch {
		case arg == "--endpoint" || arg == "-endpoint":
			if len(args) < 2 {
				return nil, "", fmt.Errorf("--endpoint requires a value")
			}
			endpoint = args[1]
			args = args[2:]
		case strings.HasPrefix(arg, "--endpoint="):
			endpoint = strings.TrimPrefix(arg, "--endpoint=")
			args = args[1:]
		default:
			return args, strings.TrimRight(strings.TrimSpace(endpoint), "/"), nil
		}
	}
	return args, strings.TrimRight(strings.TrimSpace(endpoint), "/"), nil
}

func usage() string {
	buf := &bytes.Buffer{}
	fmt.Fprintln(buf, "Usage: synthctl [--endpoint URL] <command> [flags]")
	fmt.Fprintln(buf, "Offline:")
	fmt.Fprintln(buf, "  authorities          Derive the mint, treasury and fee authorities for an admin")
	fmt.Fprintln(buf, "  keygen               Generate a signing key (optionally into a keystore)")
	fmt.Fprintln(buf, "  token                Issue an admin bearer token from the shared secret")
	fmt.Fprintln(buf, "  export               Write the event journal to a Parquet file")
	fmt.Fprintln(buf, "Admin:")
	fmt.Fprintln(buf, "  init                 Initialize the engine from a TOML parameter file")
	fmt.Fprintln(buf, "  pause | unpause      Toggle the engine pause flag")
	fmt.Fprintln(buf, "  set-fee              Update the fee rate in basis points")
	fmt.Fprintln(buf, "  set-min-collateral   Update the minimum collateral ratio in basis points")
	fmt.Fprintln(buf, "User:")
	fmt.Fprintln(buf, "  mint | burn          Submit a signed operation")
	fmt.Fprintln(buf, "  quote                Dry-run a mint or burn")
	fmt.Fprintln(buf, "  status               Show config, balances and collateral ratio")
	fmt.Fprintln(buf, "  events               List journal events after a cursor")
	fmt.Fprintf(buf, "Environment: %s, %s, %s, %s, %s\n", envEndpoint, envAdminToken, envJWTSecret, envUserKey, envKeystorePass)
	return buf.String()
}
