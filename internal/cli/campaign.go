package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"

	"mailpace/internal/model"
	"mailpace/internal/storage"
)

// resolveCampaign accepts a numeric id or a uid.
func resolveCampaign(ctx context.Context, store *storage.Store, ref string) (model.Campaign, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return store.Campaign(ctx, id)
	}
	return store.CampaignByUID(ctx, ref)
}

// transitionCommand builds queue and pause, which differ only in the store
// call and the wording.
func transitionCommand(verb string, apply func(*storage.Store, context.Context, int64) (bool, error)) func(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
		return func(args []string, stdout, stderr io.Writer) int {
			if wantsHelp(args) {
				printCommandUsage(cmd, stdout)
				return ExitOK
			}

			flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
			configPath := flags.String("config", "", "Path to config file (default: search for .mailpace/config.yml)")
			positional, code := parseFlags(cmd, flags, args, 1, stdout, stderr)
			if code >= 0 {
				return code
			}

			ctx := context.Background()
			a, err := loadApp(ctx, *configPath)
			if err != nil {
				fmt.Fprintf(stderr, "%s failed: %v\n", cmd.Name, err)
				return ExitError
			}
			defer a.Close()

			campaign, err := resolveCampaign(ctx, a.Store, positional[0])
			if err != nil {
				fmt.Fprintf(stderr, "%s failed: %v\n", cmd.Name, err)
				return ExitError
			}
			ok, err := apply(a.Store, ctx, campaign.ID)
			if err != nil {
				fmt.Fprintf(stderr, "%s failed: %v\n", cmd.Name, err)
				return ExitError
			}
			if !ok {
				fmt.Fprintf(stderr, "Campaign %s cannot be %s from status %s\n", campaign.UID, verb, campaign.Status)
				return ExitError
			}
			fmt.Fprintf(stdout, "Campaign %s %s\n", campaign.UID, verb)
			return ExitOK
		}
	}
}

var (
	runQueue = transitionCommand("queued", (*storage.Store).QueueCampaign)
	runPause = transitionCommand("paused", (*storage.Store).PauseCampaign)
)

// runStatus builds the handler for the status command.
func runStatus(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		configPath := flags.String("config", "", "Path to config file (default: search for .mailpace/config.yml)")
		positional, code := parseFlags(cmd, flags, args, 1, stdout, stderr)
		if code >= 0 {
			return code
		}

		ctx := context.Background()
		a, err := loadApp(ctx, *configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Status failed: %v\n", err)
			return ExitError
		}
		defer a.Close()

		campaign, err := resolveCampaign(ctx, a.Store, positional[0])
		if err != nil {
			fmt.Fprintf(stderr, "Status failed: %v\n", err)
			return ExitError
		}
		stats, err := a.Store.Stats(ctx, campaign.ID)
		if err != nil {
			fmt.Fprintf(stderr, "Status failed: %v\n", err)
			return ExitError
		}

		fmt.Fprintf(stdout, "Campaign: %s (%s)\n", campaign.Name, campaign.UID)
		fmt.Fprintf(stdout, "Status: %s\n", campaign.Status)
		if !campaign.DeliveryAt.IsZero() {
			fmt.Fprintf(stdout, "Delivery started: %s\n", campaign.DeliveryAt.UTC().Format("2006-01-02 15:04:05Z"))
		}
		fmt.Fprintf(stdout, "Sent: %d\n", stats.Sent)
		fmt.Fprintf(stdout, "Failed: %d\n", stats.Failed)
		if campaign.LastError != "" {
			fmt.Fprintf(stdout, "Last error: %s\n", campaign.LastError)
		}
		return ExitOK
	}
}
