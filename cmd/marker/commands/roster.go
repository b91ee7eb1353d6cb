package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dyluth/marker/internal/printer"
	"github.com/dyluth/marker/internal/roster"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the cohort's participants and staff",
}

var rosterImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import participants and staff from a YAML roster",
	Long: `Import a roster file into the ledger.

Participants already in the ledger keep their row (and their history);
their name is updated. New participants get a new row, with empty cells
and no reviewer for periods that already exist. The staff list is
replaced as a whole.

Staff roles: curator, instructor, reviewer (or assistant).

Example roster.yml:
  participants:
    - name: Ana
      handle: "@ana"
  staff:
    - name: Kate
      handle: "@kate"
      role: curator`,
	Args: cobra.ExactArgs(1),
	RunE: runRosterImport,
}

var rosterShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List participants and staff",
	Args:  cobra.NoArgs,
	RunE:  runRosterShow,
}

func init() {
	rosterCmd.AddCommand(rosterImportCmd, rosterShowCmd)
	rootCmd.AddCommand(rosterCmd)
}

func runRosterImport(cmd *cobra.Command, args []string) error {
	r, err := roster.Load(args[0])
	if err != nil {
		return printer.Error("roster rejected", err.Error(), []string{"Fix the roster file and import again"})
	}

	ctx := context.Background()
	_, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := roster.Import(ctx, client, r)
	if err != nil {
		return fmt.Errorf("failed to import roster: %w", err)
	}

	printer.Success("Imported %d participants and %d staff into cohort '%s'\n", len(res.Rows), res.Staff, client.Cohort())
	return nil
}

func runRosterShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	participants, err := client.ListParticipants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}
	staff, err := client.ListStaff(ctx)
	if err != nil {
		return fmt.Errorf("failed to list staff: %w", err)
	}

	printer.Printf("Participants (%d):\n", len(participants))
	table := tablewriter.NewWriter(printer.Out)
	table.Header("ID", "Name", "Handle")
	for _, p := range participants {
		if err := table.Append(strconv.Itoa(p.ID), p.Name, p.Handle); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	printer.Printf("\nStaff (%d):\n", len(staff))
	table = tablewriter.NewWriter(printer.Out)
	table.Header("Role", "Name", "Handle")
	for _, s := range staff {
		if err := table.Append(string(s.Role), s.Name, s.Handle); err != nil {
			return err
		}
	}
	return table.Render()
}
