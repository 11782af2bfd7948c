package deployer

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/avast/retry-go/v4"
	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/log"
	"github.com/sirupsen/logrus"
)

type processResult struct {
	resp *api.Response
	err  error
}

// awaitProcess runs send on its own goroutine and blocks until it returns.
// Each time poll elapses without a result a warning is logged; the send is
// never abandoned.
func awaitProcess(ctx context.Context, clk clock.Clock, poll time.Duration, req *api.Request, send func() (*api.Response, error)) (*api.Response, error) {
	done := make(chan processResult, 1)
	go func() {
		resp, err := send()
		done <- processResult{resp: resp, err: err}
	}()

	start := clk.Now()
	ticker := clk.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case res := <-done:
			return res.resp, res.err
		case <-ticker.C():
			processWaitTicks.Inc()
			log.G(ctx).WithFields(logrus.Fields{
				"request.type": req.Type,
				"waited":       clk.Since(start),
			}).Warn("request still in flight")
		}
	}
}

// withClientID returns a shallow copy of req carrying id.
func withClientID(req *api.Request, id string) *api.Request {
	out := *req
	out.ClientID = id
	return &out
}

// sendWithRetries calls send up to retries+1 times, bounding each attempt by
// timeout when it is positive.
func sendWithRetries(ctx context.Context, timeout time.Duration, retries int, delay time.Duration, send func(context.Context) (*api.Response, error)) (*api.Response, error) {
	if retries < 0 {
		retries = 0
	}
	var resp *api.Response
	err := retry.Do(
		func() error {
			callCtx, cancel := ctx, context.CancelFunc(func() {})
			if timeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()

			out, err := send(callCtx)
			if err != nil {
				return err
			}
			resp = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(retries)+1),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.G(ctx).WithError(err).Debugf("attempt %d failed, retrying", n+1)
		}),
	)
	return resp, err
}
