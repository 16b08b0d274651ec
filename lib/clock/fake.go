// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake is a deterministic Clock for tests. Time only moves when the
// test calls Advance or Set. Waiters created by After and tickers from
// NewTicker fire synchronously inside Advance, before it returns.
type Fake struct {
	mutex   sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	tickers []*fakeTicker
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
}

type fakeTicker struct {
	interval time.Duration
	next     time.Time
	channel  chan time.Time
	stopped  bool
}

// NewFake returns a Fake clock starting at a fixed, arbitrary epoch.
// Tests that care about absolute time should call Set.
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

// Now returns the fake current time.
func (fake *Fake) Now() time.Time {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return fake.now
}

// Set jumps the clock to t without firing waiters. Use it for setup;
// use Advance to drive timers.
func (fake *Fake) Set(t time.Time) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.now = t
}

// After returns a channel that fires when the clock advances past d
// from now.
func (fake *Fake) After(d time.Duration) <-chan time.Time {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	waiter := &fakeWaiter{
		deadline: fake.now.Add(d),
		channel:  make(chan time.Time, 1),
	}
	if d <= 0 {
		waiter.channel <- fake.now
		return waiter.channel
	}
	fake.waiters = append(fake.waiters, waiter)
	return waiter.channel
}

// NewTicker returns a ticker driven by Advance.
func (fake *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("non-positive interval for NewTicker")
	}
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	ticker := &fakeTicker{
		interval: d,
		next:     fake.now.Add(d),
		channel:  make(chan time.Time, 1),
	}
	fake.tickers = append(fake.tickers, ticker)
	return &Ticker{
		C: ticker.channel,
		stopFunc: func() {
			fake.mutex.Lock()
			defer fake.mutex.Unlock()
			ticker.stopped = true
		},
	}
}

// Advance moves the clock forward by d, delivering every waiter and
// ticker tick that falls due, in deadline order. Ticks that a slow
// consumer has not drained are dropped, matching time.Ticker.
func (fake *Fake) Advance(d time.Duration) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	target := fake.now.Add(d)

	for {
		earliest, due := fake.nextDeadline(target)
		if !due {
			break
		}
		fake.now = earliest
		fake.fireDue()
	}
	fake.now = target
}

// nextDeadline returns the soonest pending waiter or ticker deadline
// at or before target. Every pending deadline is strictly after
// fake.now -- fireDue clears or advances anything due. Caller holds the
// mutex.
func (fake *Fake) nextDeadline(target time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	consider := func(deadline time.Time) {
		if deadline.After(target) {
			return
		}
		if !found || deadline.Before(earliest) {
			earliest = deadline
			found = true
		}
	}
	for _, waiter := range fake.waiters {
		consider(waiter.deadline)
	}
	for _, ticker := range fake.tickers {
		if !ticker.stopped {
			consider(ticker.next)
		}
	}
	return earliest, found
}

// fireDue delivers everything due at or before the current fake time.
// Caller holds the mutex.
func (fake *Fake) fireDue() {
	remaining := fake.waiters[:0]
	for _, waiter := range fake.waiters {
		if waiter.deadline.After(fake.now) {
			remaining = append(remaining, waiter)
			continue
		}
		waiter.channel <- fake.now
	}
	fake.waiters = remaining

	for _, ticker := range fake.tickers {
		for !ticker.stopped && !ticker.next.After(fake.now) {
			select {
			case ticker.channel <- ticker.next:
			default:
				// Consumer behind; drop the tick.
			}
			ticker.next = ticker.next.Add(ticker.interval)
		}
	}
}
