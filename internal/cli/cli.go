// Package cli implements the mailpace command line.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

type Command struct {
	Name    string
	Summary string
	Usage   []string
	Run     func(args []string, stdout, stderr io.Writer) int
}

func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stdout)
		return ExitUsage
	}
	if isHelpArg(args[0]) {
		printUsage(stdout)
		return ExitOK
	}

	cmd := findCommand(args[0])
	if cmd == nil {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return ExitUsage
	}

	return cmd.Run(args[1:], stdout, stderr)
}

func findCommand(name string) *Command {
	for _, cmd := range commands {
		if cmd.Name == name {
			return cmd
		}
	}
	return nil
}

func isHelpArg(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	default:
		return false
	}
}

func wantsHelp(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "-h", "--help":
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  mailpace <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", cmd.Name, cmd.Summary)
	}
	fmt.Fprintln(w, "\nUse \"mailpace <command> --help\" for more information.")
}

func printCommandUsage(cmd *Command, w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	for _, line := range cmd.Usage {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if cmd.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", cmd.Summary)
	}
}

// parseFlags parses args into flags, allowing flags after positional
// arguments, and checks the positional count. A non-negative code means the
// command should return it immediately.
func parseFlags(cmd *Command, flags *flag.FlagSet, args []string, positional int, stdout, stderr io.Writer) ([]string, int) {
	flags.SetOutput(stderr)
	var rest []string
	for {
		if err := flags.Parse(args); err != nil {
			if err == flag.ErrHelp {
				printCommandUsage(cmd, stdout)
				return nil, ExitOK
			}
			fmt.Fprintf(stderr, "invalid arguments: %v\n", err)
			printCommandUsage(cmd, stderr)
			return nil, ExitUsage
		}
		args = flags.Args()
		if len(args) == 0 {
			break
		}
		rest = append(rest, args[0])
		args = args[1:]
	}
	if len(rest) > positional {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(rest[positional:], " "))
		printCommandUsage(cmd, stderr)
		return nil, ExitUsage
	}
	if len(rest) < positional {
		fmt.Fprintln(stderr, "missing arguments")
		printCommandUsage(cmd, stderr)
		return nil, ExitUsage
	}
	return rest, -1
}

func command(name, summary string, usage []string, runner func(cmd *Command) func(args []string, stdout, stderr io.Writer) int) *Command {
	cmd := &Command{
		Name:    name,
		Summary: summary,
		Usage:   usage,
	}
	cmd.Run = runner(cmd)
	return cmd
}

var commands = []*Command{
	command("init", "Scaffold .mailpace/config.yml", []string{
		"mailpace init [--config <path>]",
	}, runInit),
	command("validate", "Validate .mailpace/config.yml", []string{
		"mailpace validate [--config <path>]",
	}, runValidate),
	command("start", "Send a ready campaign", []string{
		"mailpace start <campaign> [--config <path>] [--ui auto|live|plain] [--verbose]",
	}, runStart),
	command("queue", "Mark a new or paused campaign ready", []string{
		"mailpace queue <campaign> [--config <path>]",
	}, runQueue),
	command("pause", "Pause a ready or sending campaign", []string{
		"mailpace pause <campaign> [--config <path>]",
	}, runPause),
	command("status", "Show campaign status and delivery counts", []string{
		"mailpace status <campaign> [--config <path>]",
	}, runStatus),
	command("quota", "Show quota usage of a customer or server", []string{
		"mailpace quota customer|server <uid> [--config <path>]",
	}, runQuota),
	command("renew", "Rebuild quota usage from delivery history", []string{
		"mailpace renew customer|server <uid> [--config <path>]",
	}, runRenew),
}
