// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package pacer implements the Node's sleep-until-next-tick rate limiter.
package pacer

import "time"

// Pacer sleeps a caller's main loop to a target frequency. The first call
// to Sleep only records the current instant; there is nothing to wait on
// yet. A Pacer is not safe for concurrent use by multiple goroutines - it
// belongs to a single Node's run loop.
type Pacer struct {
	period  time.Duration
	last    time.Time
	started bool

	// sleep and now are overridden in tests to avoid real wall-clock waits.
	sleep func(time.Duration)
	now   func() time.Time
}

// New returns a Pacer targeting targetFPS calls to Sleep per second. A
// non-positive targetFPS disables pacing; Sleep then returns immediately.
func New(targetFPS float64) *Pacer {
	p := &Pacer{sleep: time.Sleep, now: time.Now}
	if targetFPS > 0 {
		p.period = time.Duration(float64(time.Second) / targetFPS)
	}
	return p
}

// Sleep blocks until period has elapsed since the instant recorded by the
// previous call, then updates that instant to "now after sleep." No
// compensation is made for overruns beyond a single period: a loop that
// occasionally runs over simply free-runs on the next iteration.
func (p *Pacer) Sleep() {
	now := p.now()
	if !p.started {
		p.started = true
		p.last = now
		return
	}

	if p.period <= 0 {
		p.last = now
		return
	}

	elapsed := now.Sub(p.last)
	if elapsed < p.period {
		p.sleep(p.period - elapsed)
		now = p.now()
	}
	p.last = now
}
