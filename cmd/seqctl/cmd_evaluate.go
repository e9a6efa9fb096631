package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"whatsapp-crm/internal/lock"
	"whatsapp-crm/internal/sequence"
	"whatsapp-crm/internal/store"
)

var evaluateFlags struct {
	asJSON bool
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate contacts against their sequence without sending",
}

var evaluateContactCmd = &cobra.Command{
	Use:   "contact <contact-id>",
	Short: "Show the decision for one contact",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvaluateContact,
}

var evaluateAccountCmd = &cobra.Command{
	Use:   "account <account-id>",
	Short: "List the contacts of an account with a message due now",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvaluateAccount,
}

func init() {
	evaluateCmd.PersistentFlags().BoolVar(&evaluateFlags.asJSON, "json", false, "Print the result as JSON")
	evaluateCmd.AddCommand(evaluateContactCmd)
	evaluateCmd.AddCommand(evaluateAccountCmd)
}

func newEngine(cmd *cobra.Command) (*sequence.Engine, lock.Locker, time.Duration, error) {
	cfg, db, log, err := openDB()
	if err != nil {
		return nil, nil, 0, err
	}

	// Evaluation may advance a contact, so share the server's leases when
	// they live in Redis.
	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Enabled {
		redisLocker := lock.NewRedisLocker(cfg.Redis)
		if err := redisLocker.Ping(cmd.Context()); err != nil {
			return nil, nil, 0, fmt.Errorf("connect to redis: %w", err)
		}
		locker = redisLocker
	}

	engine := sequence.NewEngine(sequence.Options{
		Contacts:  store.NewContactStore(db),
		Sequences: store.NewSequenceStore(db),
		History:   store.NewMessageStore(db),
		Leads:     store.NewLeadStore(db),
		Accounts:  store.NewAccountStore(db),
		Logger:    log,
		Workers:   cfg.DispatchWorkers,
		Guard:     lock.Guard(locker, cfg.LeaseTTL),
	})
	return engine, locker, cfg.LeaseTTL, nil
}

func runEvaluateContact(cmd *cobra.Command, args []string) error {
	contactID, err := parseID(args[0])
	if err != nil {
		return err
	}
	engine, locker, ttl, err := newEngine(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	lease, err := locker.Acquire(ctx, lock.ContactKey(contactID), ttl)
	if err != nil {
		return fmt.Errorf("contact %d: %w", contactID, err)
	}
	defer lease.Release(context.Background())

	decision := engine.EvaluateContact(ctx, contactID)
	out := cmd.OutOrStdout()
	if evaluateFlags.asJSON {
		return writeJSON(out, decision)
	}
	printDecision(out, decision)
	return nil
}

func runEvaluateAccount(cmd *cobra.Command, args []string) error {
	accountID, err := parseID(args[0])
	if err != nil {
		return err
	}
	engine, _, _, err := newEngine(cmd)
	if err != nil {
		return err
	}
	due, err := engine.EvaluateAccount(cmd.Context(), accountID)
	if err != nil {
		return fmt.Errorf("evaluate account %d: %w", accountID, err)
	}
	out := cmd.OutOrStdout()
	if evaluateFlags.asJSON {
		if due == nil {
			due = []sequence.DueContact{}
		}
		return writeJSON(out, due)
	}
	if len(due) == 0 {
		fmt.Fprintf(out, "No contacts due for account #%d\n", accountID)
		return nil
	}
	fmt.Fprintf(out, "Due: %d contact(s)\n", len(due))
	for _, d := range due {
		next := d.Decision.Position
		if d.Decision.NextMessage != nil {
			next = d.Decision.NextMessage.OrderPosition
		}
		fmt.Fprintf(out, "  #%d %s (%s) -> step %d\n", d.Contact.ID, d.Contact.Name, d.Contact.WaID, next)
	}
	return nil
}

func printDecision(out io.Writer, d sequence.Decision) {
	fmt.Fprintf(out, "Contact:   #%d\n", d.ContactID)
	fmt.Fprintf(out, "Send:      %t\n", d.ShouldSend)
	fmt.Fprintf(out, "Reason:    %s\n", d.Reason)
	if d.Code != "" {
		fmt.Fprintf(out, "Code:      %s\n", d.Code)
	}
	if d.State != "" {
		fmt.Fprintf(out, "State:     %s\n", d.State)
	}
	fmt.Fprintf(out, "Position:  %d\n", d.Position)
	fmt.Fprintf(out, "Delay:     %gh\n", d.AccumulatedDelay)
	if d.NextMessage != nil {
		fmt.Fprintf(out, "Next step: %d (%s)\n", d.NextMessage.OrderPosition, stepDetail(d.NextMessage))
	}
	if d.TimeUntilSendMinutes != nil {
		fmt.Fprintf(out, "Wait:      %d min\n", *d.TimeUntilSendMinutes)
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
