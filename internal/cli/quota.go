package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"mailpace/internal/account"
	"mailpace/internal/app"
)

// meterFor loads the meter of a customer or server uid.
func meterFor(ctx context.Context, a *app.App, kind, uid string) (*account.Meter, error) {
	switch kind {
	case "customer":
		return a.CustomerMeter(ctx, uid)
	case "server":
		return a.ServerMeter(ctx, uid)
	default:
		return nil, fmt.Errorf("unknown quota owner %q (expected customer|server)", kind)
	}
}

// runQuota builds the handler for the quota command.
func runQuota(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		return withMeter(cmd, args, stdout, stderr, func(ctx context.Context, m *account.Meter) error {
			usage, err := m.Usage(ctx)
			if err != nil {
				return err
			}
			display, err := m.DisplayUsage(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s %s (%s)\n", m.Owner(), m.Name(), m.UID())
			fmt.Fprintf(stdout, "Sent: %d\n", usage)
			fmt.Fprintf(stdout, "Usage: %s\n", display)
			return nil
		})
	}
}

// runRenew builds the handler for the renew command.
func runRenew(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		return withMeter(cmd, args, stdout, stderr, func(ctx context.Context, m *account.Meter) error {
			if err := m.Renew(ctx); err != nil {
				return err
			}
			usage, err := m.Usage(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Renewed %s %s: %d sends counted\n", m.Owner(), m.UID(), usage)
			return nil
		})
	}
}

func withMeter(cmd *Command, args []string, stdout, stderr io.Writer, fn func(ctx context.Context, m *account.Meter) error) int {
	if wantsHelp(args) {
		printCommandUsage(cmd, stdout)
		return ExitOK
	}

	flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
	configPath := flags.String("config", "", "Path to config file (default: search for .mailpace/config.yml)")
	positional, code := parseFlags(cmd, flags, args, 2, stdout, stderr)
	if code >= 0 {
		return code
	}
	kind, uid := positional[0], positional[1]
	if kind != "customer" && kind != "server" {
		fmt.Fprintf(stderr, "invalid arguments: unknown quota owner %q\n", kind)
		printCommandUsage(cmd, stderr)
		return ExitUsage
	}

	ctx := context.Background()
	a, err := loadApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s failed: %v\n", cmd.Name, err)
		return ExitError
	}
	defer a.Close()

	m, err := meterFor(ctx, a, kind, uid)
	if err != nil {
		fmt.Fprintf(stderr, "%s failed: %v\n", cmd.Name, err)
		return ExitError
	}
	if err := fn(ctx, m); err != nil {
		fmt.Fprintf(stderr, "%s failed: %v\n", cmd.Name, err)
		return ExitError
	}
	return ExitOK
}
