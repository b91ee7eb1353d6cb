package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dyluth/marker/internal/assignment"
	"github.com/dyluth/marker/internal/directory"
	"github.com/dyluth/marker/internal/events"
	"github.com/dyluth/marker/internal/gradebook"
	"github.com/dyluth/marker/internal/printer"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var periodCmd = &cobra.Command{
	Use:   "period",
	Short: "Create and list assignment periods",
}

var periodAddCmd = &cobra.Command{
	Use:   "add [LABEL]",
	Short: "Create the next period and draw reviewers",
	Long: `Create the next period. Every participant gets five empty cells for it
and a reviewer drawn at random from the staff with the reviewer role.
The draw is fixed for the life of the period.

The label defaults to today's date (DD-MM-YYYY).`,
	RunE: runPeriodAdd,
}

var periodListCmd = &cobra.Command{
	Use:   "list",
	Short: "List periods with submission progress",
	Args:  cobra.NoArgs,
	RunE:  runPeriodList,
}

func init() {
	periodCmd.AddCommand(periodAddCmd, periodListCmd)
	rootCmd.AddCommand(periodCmd)
}

func runPeriodAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	publisher, err := events.New(cfg.Events.NATSURL)
	if err != nil {
		printer.Warning("Domain events disabled: %v\n", err)
		publisher = &events.NoopPublisher{}
	}
	defer publisher.Close()

	planner := assignment.NewPlanner(client, directory.New(client), publisher)
	res, err := planner.CreatePeriod(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("failed to create period: %w", err)
	}

	printer.Success("Added period %d: %s\n", res.Period.Number, res.Period.Label)
	if res.EmptyPool {
		printer.Warning("No reviewers on the roster; nobody is assigned to review period %d\n", res.Period.Number)
		return nil
	}

	load := res.Load()
	reviewers := make([]string, 0, len(load))
	for h := range load {
		reviewers = append(reviewers, h)
	}
	sort.Strings(reviewers)
	for _, h := range reviewers {
		printer.Printf("  %-20s %d\n", h, load[h])
	}
	return nil
}

func runPeriodList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := gradebook.Collect(ctx, client, gradebook.Filter{})
	if err != nil {
		return err
	}
	periods, err := client.Periods(ctx)
	if err != nil {
		return fmt.Errorf("failed to list periods: %w", err)
	}
	if len(periods) == 0 {
		printer.Info("No periods yet. Create one with:\n  marker period add\n")
		return nil
	}

	type progress struct{ submitted, reviewed, total int }
	byPeriod := make(map[int]*progress)
	for _, r := range records {
		p := byPeriod[r.Period]
		if p == nil {
			p = &progress{}
			byPeriod[r.Period] = p
		}
		p.total++
		switch r.Status {
		case gradebook.StatusReviewed:
			p.reviewed++
			p.submitted++
		case gradebook.StatusPending:
			p.submitted++
		}
	}

	table := tablewriter.NewWriter(printer.Out)
	table.Header("Period", "Label", "Submitted", "Reviewed")
	for _, period := range periods {
		p := byPeriod[period.Number]
		if p == nil {
			p = &progress{}
		}
		err := table.Append(strconv.Itoa(period.Number), period.Label,
			fmt.Sprintf("%d/%d", p.submitted, p.total),
			fmt.Sprintf("%d/%d", p.reviewed, p.submitted))
		if err != nil {
			return err
		}
	}
	return table.Render()
}
