// Package warmup turns declarative step plans into supervised workflows.
// A plan is an ordered list of named steps, each optionally tagged with
// the rate-limit class it consumes. The generated workflow checks the
// cooldown ledger before each tagged step and converts rate-limit
// responses back into ledger entries instead of failing the account.
package warmup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/accfleet/accfleet/pkg/core"
)

// DefaultWaitTimeout bounds how long a workflow waits for a class
// cooldown to clear before skipping the step.
const DefaultWaitTimeout = 30 * time.Second

// Step is one unit of a warmup plan.
type Step struct {
	// Name identifies the step in logs.
	Name string
	// Class is the rate-limit class the step consumes. Empty means the
	// step is not throttled and always runs.
	Class core.Class
	// Run performs the step against a live session.
	Run func(ctx context.Context, account core.AccountID, session *core.Session) error
}

// Plan is an ordered warmup program for one account.
type Plan struct {
	// Name identifies the plan in logs.
	Name string
	// Steps run in order. A rate-limited or skipped step does not stop
	// the rest of the plan.
	Steps []Step
	// WaitTimeout bounds the per-step wait for a cooldown to clear.
	// Zero selects DefaultWaitTimeout.
	WaitTimeout time.Duration
}

// Workflow compiles the plan into a core.Workflow driven by c's ledger.
// Cancellation aborts between and inside steps; a RateLimitError from a
// step records the cooldown and moves on; any other step error fails
// the whole workflow.
func (p Plan) Workflow(c *core.Core) core.Workflow {
	waitTimeout := p.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}

	return func(ctx context.Context, account core.AccountID, session *core.Session) error {
		for _, step := range p.Steps {
			if err := ctx.Err(); err != nil {
				return err
			}

			if step.Class != "" && !c.Ledger.IsAvailable(account, step.Class) {
				log.Printf("plan %s: step %s waiting on %s cooldown for %s",
					p.Name, step.Name, step.Class, account)
				if _, ok := c.Ledger.WaitForAvailable(ctx, []core.AccountID{account}, step.Class, waitTimeout); !ok {
					if err := ctx.Err(); err != nil {
						return err
					}
					log.Printf("plan %s: step %s skipped for %s, cooldown did not clear in %s",
						p.Name, step.Name, account, waitTimeout)
					continue
				}
			}

			err := step.Run(ctx, account, session)
			if err == nil {
				continue
			}

			var rle *core.RateLimitError
			if errors.As(err, &rle) {
				log.Printf("plan %s: step %s rate limited for %s: %v", p.Name, step.Name, account, rle)
				c.Ledger.Record(account, rle.Class, rle.RetryAfter)
				continue
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("plan %s: step %s failed for %s: %w", p.Name, step.Name, account, err)
		}
		return nil
	}
}
