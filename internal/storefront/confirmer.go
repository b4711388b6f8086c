package storefront

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"urembo-be/internal/checkout"
)

// ConsoleConfirmer prints the order confirmation for the CLI.
type ConsoleConfirmer struct {
	Out io.Writer
}

func (c ConsoleConfirmer) Confirm(ctx context.Context, conf checkout.Confirmation) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	_, err := fmt.Fprintf(out,
		"Order %s confirmed\n  Amount:   KES %.2f\n  Phone:    %s\n  Receipt:  %s\n  Paid at:  %s\n",
		conf.OrderReference,
		conf.Amount,
		conf.Phone,
		conf.CorrelationID,
		conf.PaidAt.Format(time.RFC1123),
	)
	return err
}
