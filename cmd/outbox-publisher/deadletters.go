package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/formpay/pkg/db/models"
	"github.com/angelmondragon/formpay/pkg/outbox"
)

type deadLetters interface {
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
	List(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

// deadLetterCommand handles -dead-letters and -requeue. It reports whether a
// command ran, in which case the publisher loop is not started.
func deadLetterCommand(ctx context.Context, store deadLetters, list bool, requeue string, out io.Writer) (bool, error) {
	switch {
	case requeue != "":
		id, err := uuid.Parse(requeue)
		if err != nil {
			return true, fmt.Errorf("invalid event id %q: %w", requeue, err)
		}
		entry, err := store.FindByEventID(ctx, id)
		if err != nil {
			return true, err
		}
		if entry == nil {
			return true, fmt.Errorf("%s: %w", id, outbox.ErrDeadLetterNotFound)
		}
		if err := store.Requeue(ctx, id); err != nil {
			return true, err
		}
		fmt.Fprintf(out, "requeued %s (%s, %s after %d attempts)\n", id, entry.EventType, entry.ErrorReason, entry.AttemptCount)
		return true, nil
	case list:
		rows, err := store.List(ctx, 0)
		if err != nil {
			return true, err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT ID\tTYPE\tREASON\tATTEMPTS\tFAILED AT\tERROR")
		for _, row := range rows {
			msg := ""
			if row.ErrorMessage != nil {
				msg = *row.ErrorMessage
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", row.EventID, row.EventType, row.ErrorReason, row.AttemptCount, row.FailedAt.UTC().Format(time.RFC3339), msg)
		}
		return true, w.Flush()
	}
	return false, nil
}
