package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/marker/internal/events"
	"github.com/dyluth/marker/internal/printer"
	"github.com/dyluth/marker/internal/watch"
	"github.com/spf13/cobra"
)

var watchOutput string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream ledger changes as they happen",
	Long: `Stream every ledger change for the cohort: cell writes, new periods
and participants, staff imports. When events.nats_url is configured, domain
events (submissions, verdicts, periods) are streamed too.

Output formats:
  default  One human-readable line per event
  json     Line-delimited JSON

Examples:
  marker watch
  marker watch --output json | jq .`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "default", "Output format: default or json")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format := watch.OutputFormat(watchOutput)
	if format != watch.OutputFormatDefault && format != watch.OutputFormatJSON {
		return printer.Error("invalid output format",
			fmt.Sprintf("%q is not supported", watchOutput),
			[]string{"Use --output default or --output json"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var domain watch.DomainSource
	if cfg.Events.NATSURL != "" {
		sub, err := events.NewNATSSubscriber(cfg.Events.NATSURL)
		if err != nil {
			printer.Warning("Domain events unavailable: %v\n", err)
		} else {
			defer sub.Close()
			domain = sub
		}
	}

	return watch.StreamActivity(ctx, client, domain, client.Cohort(), format, cmd.OutOrStdout())
}
