package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mailpace/internal/dispatch"
	"mailpace/internal/logger"
	"mailpace/internal/model"
	"mailpace/internal/ui/live"
)

// runStart builds the handler for the start command.
func runStart(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		configPath := flags.String("config", "", "Path to config file (default: search for .mailpace/config.yml)")
		uiMode := flags.String("ui", "auto", "Progress output (auto|live|plain)")
		verbose := flags.Bool("verbose", false, "Print every delivery (implies plain output)")
		noColor := flags.Bool("no-color", false, "Disable colors in the live UI")
		positional, code := parseFlags(cmd, flags, args, 1, stdout, stderr)
		if code >= 0 {
			return code
		}

		decision, err := resolveUIMode(*uiMode, *verbose, *noColor, stdout)
		if err != nil {
			fmt.Fprintf(stderr, "invalid arguments: %v\n", err)
			printCommandUsage(cmd, stderr)
			return ExitUsage
		}
		if decision.warning != "" {
			fmt.Fprintln(stderr, decision.warning)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		a, err := loadApp(ctx, *configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Start failed: %v\n", err)
			return ExitError
		}
		defer a.Close()

		campaign, err := resolveCampaign(ctx, a.Store, positional[0])
		if err != nil {
			fmt.Fprintf(stderr, "Start failed: %v\n", err)
			return ExitError
		}

		var observer dispatch.Observer = &plainObserver{out: stdout, verbose: *verbose}
		var controller *live.Controller
		if decision.useLive {
			controller = live.Start(stdout, live.Options{NoColor: decision.noColor, OnInterrupt: cancel})
			observer = controller
		}

		d, err := a.Dispatcher(observer)
		if err != nil {
			controller.Close()
			controller.Wait()
			fmt.Fprintf(stderr, "Start failed: %v\n", err)
			return ExitError
		}
		result, err := d.Start(ctx, campaign.ID)
		if controller != nil {
			controller.Close()
			controller.Wait()
			printResult(stdout, result)
		}
		if err != nil {
			if errors.Is(err, dispatch.ErrNotReady) {
				fmt.Fprintf(stderr, "Campaign %s is not ready (status %s)\n", campaign.UID, campaign.Status)
				return ExitError
			}
			fmt.Fprintf(stderr, "Start failed: %v\n", err)
			return ExitError
		}
		if result.Status == model.CampaignError {
			return ExitError
		}
		return ExitOK
	}
}

// plainObserver prints progress lines for non-interactive output.
type plainObserver struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

func (o *plainObserver) OnRunStart(info dispatch.RunInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, "Campaign %s: %d recipients, %d workers (run %s)\n", info.CampaignName, info.Recipients, info.Workers, info.RunID)
}

func (o *plainObserver) OnEvent(event dispatch.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch event.Type {
	case dispatch.EventFailed:
		fmt.Fprintf(o.out, "worker %d: failed %s via %s: %s\n", event.Worker, logger.MaskEmail(event.Recipient), event.Server, event.Error)
	case dispatch.EventServersWaiting:
		fmt.Fprintf(o.out, "worker %d: every server is over quota, waiting\n", event.Worker)
	case dispatch.EventDelivered:
		if o.verbose {
			fmt.Fprintf(o.out, "worker %d: sent %s via %s\n", event.Worker, logger.MaskEmail(event.Recipient), event.Server)
		}
	case dispatch.EventWorkerEnd:
		if event.Error != "" {
			fmt.Fprintf(o.out, "worker %d: stopped: %s\n", event.Worker, event.Error)
		}
	}
}

func (o *plainObserver) OnRunEnd(result dispatch.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	printResult(o.out, result)
}

func printResult(w io.Writer, result dispatch.Result) {
	if result.RunID == "" {
		return
	}
	fmt.Fprintf(w, "Status: %s, sent %d, failed %d of %d\n", result.Status, result.Sent, result.Failed, result.Recipients)
	if result.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", result.Error)
	}
}
