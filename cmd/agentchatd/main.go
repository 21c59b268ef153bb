// agentchatd serves the agentchat access ledger over HTTP and provides
// operator commands for deploying instances and minting development
// bearer tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

const usage = `agentchatd: pay-per-message chat access ledger.

Usage:
  agentchatd serve  [--config file]
  agentchatd deploy --agent 0x... [--deployer 0x...] [--config file]
  agentchatd token  --sub 0x... [--ttl 1h] [--config file]

Configuration comes from defaults, the YAML file named by --config or
AGENTCHAT_CONFIG, a .env file, then AGENTCHAT_* environment variables.
`

type command func(ctx context.Context, args []string, stdout io.Writer) error

var commands = map[string]command{
	"serve":  runServe,
	"deploy": runDeploy,
	"token":  runToken,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stdout, usage)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
	return cmd(ctx, args[1:], stdout)
}

// parseFlags parses args into fs, treating --help as a successful no-op.
func parseFlags(fs *pflag.FlagSet, args []string, stdout io.Writer) (done bool, err error) {
	fs.SetOutput(stdout)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return true, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return true, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return false, nil
}
