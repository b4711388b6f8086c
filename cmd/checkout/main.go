package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"urembo-be/internal/auth"
	"urembo-be/internal/checkout"
	"urembo-be/internal/config"
	"urembo-be/internal/logger"
	"urembo-be/internal/mpesa"
	"urembo-be/internal/storefront"

	"go.uber.org/zap"
)

var errAborted = errors.New("checkout aborted")

type options struct {
	phone       string
	amount      float64
	order       string
	description string
	interval    time.Duration
	attempts    int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	fs.StringVar(&opts.phone, "phone", "", "M-Pesa phone number (07XX, 01XX, +254 or 254 form)")
	fs.Float64Var(&opts.amount, "amount", 0, "amount to charge in KES")
	fs.StringVar(&opts.order, "order", "", "order reference")
	fs.StringVar(&opts.description, "desc", "Urembo order", "description shown on the prompt")
	fs.DurationVar(&opts.interval, "interval", mpesa.DefaultPollInterval, "status poll interval")
	fs.IntVar(&opts.attempts, "attempts", mpesa.DefaultMaxAttempts, "maximum status queries")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

// run pays one order and blocks until the payment settles, the buyer gives
// up after a timeout, or ctx is cancelled.
func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg := config.LoadClientConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	tokens := tokenProvider(cfg)
	gw, err := mpesa.NewGateway(cfg, tokens)
	if err != nil {
		return err
	}

	flow := checkout.NewFlow(gw,
		storefront.NewClient(cfg.APIURL, tokens),
		storefront.ConsoleConfirmer{Out: out},
		mpesa.WithInterval(opts.interval),
		mpesa.WithMaxAttempts(opts.attempts),
	)
	defer flow.Close()

	ctx = logger.WithOrderRef(ctx, opts.order)

	results := make(chan error, 1)
	var timedOut mpesa.SessionSnapshot
	cb := mpesa.Callbacks{
		OnStatusChange: func(rec mpesa.StatusRecord) {
			fmt.Fprintf(out, "[%s] %s\n", rec.Status, rec.Message)
		},
		OnSuccess: func(mpesa.SessionSnapshot) { results <- nil },
		OnCancel:  func(mpesa.SessionSnapshot) { results <- mpesa.ErrPaymentCancelled },
		OnError:   func(_ mpesa.SessionSnapshot, err error) { results <- err },
		OnTimeout: func(snap mpesa.SessionSnapshot) {
			timedOut = snap
			results <- mpesa.ErrPollTimeout
		},
	}

	h, err := flow.Pay(ctx, mpesa.PaymentRequest{
		PhoneNumber:    opts.phone,
		Amount:         opts.amount,
		OrderReference: opts.order,
		Description:    opts.description,
	}, cb)
	if err != nil {
		var gwErr *mpesa.GatewayError
		if errors.As(err, &gwErr) {
			return errors.New(gwErr.UserMessage())
		}
		return err
	}

	select {
	case err = <-results:
	case <-ctx.Done():
		h.Cancel()
		return ctx.Err()
	}

	if !errors.Is(err, mpesa.ErrPollTimeout) {
		return err
	}
	return checkAgainLoop(ctx, flow, timedOut, in, out)
}

func tokenProvider(cfg *config.ClientConfig) auth.TokenProvider {
	if cfg.AccessTokenFile != "" {
		return auth.FileToken(cfg.AccessTokenFile)
	}
	return auth.StaticToken(cfg.AccessToken)
}

// checkAgainLoop offers the buyer a manual re-check after polling gave up.
func checkAgainLoop(ctx context.Context, flow *checkout.Flow, snap mpesa.SessionSnapshot, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Check payment status again? [y/N] ")
		if !scanner.Scan() || !strings.EqualFold(strings.TrimSpace(scanner.Text()), "y") {
			return errAborted
		}

		outcome, err := flow.CheckAgain(ctx, snap.CorrelationID)
		if err != nil {
			logger.FromCtx(ctx).Warn("manual status check failed", zap.Error(err))
			fmt.Fprintln(out, mpesa.UserMessage(mpesa.StatusTimeout))
			continue
		}

		fmt.Fprintf(out, "[%s] %s\n", outcome.Status, outcome.Message)
		if !outcome.Terminal() {
			continue
		}
		if outcome.Status == mpesa.StatusSuccess {
			flow.Complete(ctx, snap)
			return nil
		}
		return outcome.Err()
	}
}
