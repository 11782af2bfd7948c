package deployer

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// keepalive runs beat once per interval on its own goroutine. The interval
// is slept in steps so that stop is noticed within one step.
type keepalive struct {
	clock    clock.Clock
	interval time.Duration
	step     time.Duration
	beat     func(context.Context)

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func startKeepalive(ctx context.Context, clk clock.Clock, interval, step time.Duration, beat func(context.Context)) *keepalive {
	k := &keepalive{
		clock:    clk,
		interval: interval,
		step:     step,
		beat:     beat,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go k.run(ctx)
	return k
}

func (k *keepalive) run(ctx context.Context) {
	defer close(k.done)
	for k.sleep() {
		k.beat(ctx)
	}
}

// sleep waits one interval and reports whether the loop should go on.
func (k *keepalive) sleep() bool {
	for slept := time.Duration(0); slept < k.interval; slept += k.step {
		select {
		case <-k.stop:
			return false
		case <-k.clock.After(k.step):
		}
	}
	select {
	case <-k.stop:
		return false
	default:
		return true
	}
}

// Stop asks the loop to exit and waits until it has. A beat in progress is
// allowed to finish.
func (k *keepalive) Stop() {
	k.stopOnce.Do(func() { close(k.stop) })
	<-k.done
}
