package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"
)

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "Inspect sequence steps",
}

var stepsListCmd = &cobra.Command{
	Use:   "list <sequence-id>",
	Short: "List the steps of a sequence in evaluation order",
	Args:  cobra.ExactArgs(1),
	RunE:  runStepsList,
}

func init() {
	stepsCmd.AddCommand(stepsListCmd)
}

func runStepsList(cmd *cobra.Command, args []string) error {
	sequenceID, err := parseID(args[0])
	if err != nil {
		return err
	}
	_, db, _, err := openDB()
	if err != nil {
		return err
	}
	seq, err := store.NewSequenceStore(db).GetSequenceWithSteps(cmd.Context(), sequenceID)
	if err != nil {
		return fmt.Errorf("load sequence %d: %w", sequenceID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sequence #%d %q (account %d, active=%t)\n\n", seq.ID, seq.Name, seq.AccountID, seq.Active)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Pos\tID\tType\tDelay(h)\tDetail\tBranch\n")
	fmt.Fprintf(w, "---\t--\t----\t--------\t------\t------\n")
	for i := range seq.Steps {
		s := &seq.Steps[i]
		fmt.Fprintf(w, "%d\t%d\t%s\t%g\t%s\t%s\n",
			s.OrderPosition, s.ID, s.StepType, s.DelayHoursFromPrevious, stepDetail(s), branchDetail(s))
	}
	return w.Flush()
}

func stepDetail(s *models.SequenceStep) string {
	switch s.StepType {
	case models.StepTypeMessage:
		if s.TemplateID != nil {
			return "template " + *s.TemplateID
		}
		return fmt.Sprintf("%s #%d %s", s.MessageType, s.MessageNumber, truncate(s.Content, 40))
	case models.StepTypePause:
		detail := string(s.EffectivePauseType())
		if s.DaysWithoutResponse > 0 {
			detail += fmt.Sprintf(" days=%d", s.DaysWithoutResponse)
		}
		return detail
	case models.StepTypeStageChange:
		return "-> " + s.TargetStageName
	}
	return ""
}

func branchDetail(s *models.SequenceStep) string {
	if s.ConditionType == "" || s.ConditionType == models.ConditionNone {
		return ""
	}
	return fmt.Sprintf("%s ? %s : %s", s.ConditionType, optPosition(s.NextStepIfTrue), optPosition(s.NextStepIfFalse))
}

func optPosition(p *int) string {
	if p == nil {
		return "next"
	}
	return strconv.Itoa(*p)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return uint(id), nil
}
