package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/posterparlor/storefront/internal/format"
	"github.com/posterparlor/storefront/internal/payments"
)

// prompter reads single-line answers from the terminal.
type prompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	if out == nil {
		out = io.Discard
	}
	return &prompter{in: bufio.NewReader(in), out: out}
}

// ask prints question and returns the trimmed answer. EOF with no input yields "".
func (p *prompter) ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// sandboxDecider lets the person at the terminal play the customer in the sandbox widget.
func (p *prompter) sandboxDecider() payments.Decider {
	return func(ctx context.Context, opts payments.WidgetOptions) payments.SandboxDecision {
		question := fmt.Sprintf("%s: pay %s for %s? [y]es / [n]o, decline / [c]ancel: ",
			opts.Name, format.Paise(opts.Amount), opts.Description)
		answer, err := p.ask(ctx, question)
		if err != nil {
			return payments.SandboxDecision{Kind: payments.OutcomeDismissed}
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return payments.SandboxDecision{Kind: payments.OutcomeSuccess}
		case "n", "no", "decline":
			return payments.SandboxDecision{
				Kind: payments.OutcomeFailure,
				Failure: payments.GatewayFailure{
					Description: "Payment declined by customer",
					Reason:      "payment_failed",
				},
			}
		default:
			return payments.SandboxDecision{Kind: payments.OutcomeDismissed}
		}
	}
}

// stripePrompt asks for a PaymentMethod id such as pm_card_visa. A blank answer cancels.
func (p *prompter) stripePrompt() payments.PaymentMethodPrompt {
	return func(ctx context.Context, opts payments.WidgetOptions) (string, bool, error) {
		question := fmt.Sprintf("%s: payment method for %s (blank to cancel): ", opts.Name, format.Paise(opts.Amount))
		answer, err := p.ask(ctx, question)
		if err != nil {
			return "", false, err
		}
		return answer, answer != "", nil
	}
}
