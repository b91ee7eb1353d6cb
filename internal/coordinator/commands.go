package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/dyluth/marker/internal/directory"
	"github.com/dyluth/marker/internal/transport"
	"github.com/dyluth/marker/internal/workflow"
	"github.com/dyluth/marker/pkg/ledger"
)

const (
	msgIdle            = "Send /help to see what I can do."
	msgNothingToCancel = "There is nothing to cancel."
	msgRefused         = "Looks like you are trying to do something you are not allowed to."
	msgStoreFailure    = "The record store is busy. Please try again."
	msgStartFirst      = "We could not find you on the cohort lists. Send /start to see who to contact."
)

type commandHelp struct {
	name string
	desc string
}

var participantCommands = []commandHelp{
	{"homework", "submit your work for an assignment (alias /hw)"},
	{"contacts", "list the course staff"},
	{"cancel", "leave the current conversation"},
}

var staffCommands = []commandHelp{
	{"check_homework", "review submitted work (alias /check_hw)"},
	{"add_day [label]", "create the next assignment period, labelled with today's date by default"},
	{"contacts", "list the course staff"},
	{"cancel", "leave the current conversation"},
}

// command answers the commands the coordinator owns. ok is false for commands
// that belong to a running workflow.
func (c *Coordinator) command(ctx context.Context, sl *slot, msg *transport.Inbound, ev workflow.Event) ([]workflow.Reply, bool) {
	switch ev.Command {
	case "start":
		return c.start(ctx, msg), true
	case "help":
		return c.help(ctx, msg), true
	case "contacts":
		return c.contacts(ctx), true
	case "add_day":
		return c.addDay(ctx, msg, ev.Args), true
	case "homework", "hw":
		return c.begin(ctx, sl, msg, workflow.KindSubmission, ev.Args), true
	case "check_homework", "check_hw":
		return c.begin(ctx, sl, msg, workflow.KindReview, ev.Args), true
	}
	return nil, false
}

func (c *Coordinator) classify(ctx context.Context, msg *transport.Inbound) (*directory.Identity, []workflow.Reply) {
	id, err := c.directory.Classify(ctx, msg.Handle)
	if err != nil {
		log.Printf("[Coordinator] Failed to classify %s: %v", msg.Handle, err)
		return nil, []workflow.Reply{{Text: msgStoreFailure}}
	}
	return id, nil
}

func displayName(msg *transport.Inbound, id *directory.Identity) string {
	if msg.Name != "" {
		return msg.Name
	}
	switch {
	case id.Participant != nil:
		return id.Participant.Name
	case id.Staff != nil:
		return id.Staff.Name
	}
	return id.Handle
}

func (c *Coordinator) start(ctx context.Context, msg *transport.Inbound) []workflow.Reply {
	id, fail := c.classify(ctx, msg)
	if fail != nil {
		return fail
	}
	name := displayName(msg, id)

	switch id.Standing {
	case directory.StandingParticipant:
		return []workflow.Reply{{Text: fmt.Sprintf(
			"Looks like you are on the course.\nWelcome, %s!\n"+
				"Use this bot to submit your homework and to find the staff contacts.\n"+
				"Enjoy the course!", name)}}

	case directory.StandingStaff:
		return []workflow.Reply{{Text: fmt.Sprintf(
			"Looks like you run things here.\nWelcome, %s!\nYour role is %s.\n"+
				"Send /help to see your commands.", name, id.Role)}}
	}

	curator, err := c.directory.Curator(ctx)
	if err != nil {
		log.Printf("[Coordinator] Failed to read curator: %v", err)
		return []workflow.Reply{{Text: msgStoreFailure}}
	}
	text := fmt.Sprintf("We could not find you on the lists, %s!\n", name)
	if curator != nil {
		text += fmt.Sprintf("If that is a mistake, please write to the course curator %s: %s", curator.Name, curator.Handle)
	} else {
		text += "If that is a mistake, please contact the course staff."
	}
	return []workflow.Reply{{Text: text}}
}

func (c *Coordinator) help(ctx context.Context, msg *transport.Inbound) []workflow.Reply {
	id, fail := c.classify(ctx, msg)
	if fail != nil {
		return fail
	}

	var title string
	var list []commandHelp
	switch id.Standing {
	case directory.StandingParticipant:
		title, list = "Commands for participants:", participantCommands
	case directory.StandingStaff:
		title, list = "Commands for staff:", staffCommands
	default:
		return []workflow.Reply{{Text: msgStartFirst}}
	}

	var b strings.Builder
	b.WriteString(title)
	for _, cmd := range list {
		fmt.Fprintf(&b, "\n/%s:\n %s", cmd.name, cmd.desc)
	}
	return []workflow.Reply{{Text: b.String()}}
}

var roleHeadings = map[ledger.Role]string{
	ledger.RoleCurator:    "Curator, in charge of the course organisation:",
	ledger.RoleInstructor: "Our instructors:",
	ledger.RoleReviewer:   "Reviewers, happy to answer any question and checking your homework:",
}

// contacts lists staff grouped by role, groups in order of first appearance.
func (c *Coordinator) contacts(ctx context.Context) []workflow.Reply {
	staff, err := c.directory.Staff(ctx)
	if err != nil {
		log.Printf("[Coordinator] Failed to read staff: %v", err)
		return []workflow.Reply{{Text: msgStoreFailure}}
	}

	var order []ledger.Role
	groups := make(map[ledger.Role][]ledger.Staff)
	for _, s := range staff {
		if _, seen := groups[s.Role]; !seen {
			order = append(order, s.Role)
		}
		groups[s.Role] = append(groups[s.Role], s)
	}

	var b strings.Builder
	b.WriteString("Meet the people running the course.\n")
	for _, role := range order {
		b.WriteString("\n")
		if heading, ok := roleHeadings[role]; ok {
			b.WriteString(heading)
		} else {
			fmt.Fprintf(&b, "Listed as %s:", role)
		}
		for _, s := range groups[role] {
			fmt.Fprintf(&b, "\n%s: %s", s.Name, s.Handle)
		}
		b.WriteString("\n")
	}
	if c.botHandle != "" {
		fmt.Fprintf(&b, "\nAnd me, a humble bot:\n%s", ledger.NormalizeHandle(c.botHandle))
	}
	return []workflow.Reply{{Text: strings.TrimRight(b.String(), "\n")}}
}

func (c *Coordinator) addDay(ctx context.Context, msg *transport.Inbound, args []string) []workflow.Reply {
	id, fail := c.classify(ctx, msg)
	if fail != nil {
		return fail
	}
	if !directory.CanManagePeriods(id.Role) {
		c.logEvent("command_refused", map[string]interface{}{
			"identity": msg.Identity,
			"handle":   id.Handle,
			"command":  "add_day",
		})
		return []workflow.Reply{{Text: msgRefused}}
	}

	res, err := c.planner.CreatePeriod(ctx, strings.Join(args, " "))
	if err != nil {
		log.Printf("[Coordinator] Failed to create period: %v", err)
		return []workflow.Reply{{Text: msgStoreFailure}}
	}

	c.logEvent("period_created", map[string]interface{}{
		"handle":     id.Handle,
		"period":     res.Period.Number,
		"label":      res.Period.Label,
		"empty_pool": res.EmptyPool,
		"rows":       len(res.Assignments),
	})

	text := fmt.Sprintf("Added period %d: %s", res.Period.Number, res.Period.Label)
	if res.EmptyPool {
		text += "\nThere are no reviewers on the roster, so nobody is assigned to review this period."
	}
	return []workflow.Reply{{Text: text}}
}

// begin starts a workflow, replacing whatever the identity was doing. The
// caller is classified once here and the role is kept for the session.
func (c *Coordinator) begin(ctx context.Context, sl *slot, msg *transport.Inbound, kind workflow.Kind, args []string) []workflow.Reply {
	id, fail := c.classify(ctx, msg)
	if fail != nil {
		return fail
	}

	if sl.session != nil && sl.session.Active() {
		c.logEvent("session_replaced", map[string]interface{}{
			"identity": msg.Identity,
			"handle":   id.Handle,
			"workflow": string(sl.session.Kind),
			"state":    string(sl.session.State),
		})
	}
	sl.session = nil

	s := workflow.NewSession(msg.Identity, id.Handle, displayName(msg, id))
	s.Role = id.Role
	if id.Participant != nil {
		s.ParticipantID = id.Participant.ID
	}
	s.Touch(c.now())

	var replies []workflow.Reply
	var err error
	if kind == workflow.KindSubmission {
		replies, err = c.engine.StartSubmission(ctx, s, args)
	} else {
		replies, err = c.engine.StartReview(ctx, s, args)
	}
	c.logStep(s, workflow.Event{Kind: workflow.EventCommand}, workflow.StateIdle, err)

	if s.Active() {
		sl.session = s
		c.logEvent("session_started", map[string]interface{}{
			"identity": s.Identity,
			"handle":   s.Handle,
			"role":     string(s.Role),
			"workflow": string(s.Kind),
		})
	}
	return replies
}
