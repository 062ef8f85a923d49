package replay

import (
	"encoding/json"
	"time"
)

// DefaultTickInterval is how often playback advances the scrubber
const DefaultTickInterval = 200 * time.Millisecond

// Playback cadence bounds; values outside are clamped
const (
	MinTickInterval = 100 * time.Millisecond
	MaxTickInterval = 300 * time.Millisecond
)

// PlaybackState is the scrubber's playback state
type PlaybackState int

const (
	Idle PlaybackState = iota
	Playing
)

func (s PlaybackState) String() string {
	if s == Playing {
		return "playing"
	}
	return "idle"
}

// MarshalJSON encodes the state as its string form
func (s PlaybackState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the string form written by MarshalJSON
func (s *PlaybackState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == "playing" {
		*s = Playing
	} else {
		*s = Idle
	}
	return nil
}

// Ticker is the repeating timer that drives playback
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default TickerFunc, backed by time.Ticker
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// ClampTickInterval returns d limited to the supported cadence range, or the
// default when d is zero
func ClampTickInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultTickInterval
	case d < MinTickInterval:
		return MinTickInterval
	case d > MaxTickInterval:
		return MaxTickInterval
	}
	return d
}

// Play starts playback. Playback restarts from the beginning when the
// scrubber is at the end. Returns false when there is nothing to play.
func (e *Engine) Play() bool {
	e.mu.Lock()
	if e.closed || len(e.tl.stamps) < 2 {
		e.mu.Unlock()
		return false
	}
	if e.state == Playing {
		e.mu.Unlock()
		return true
	}
	if e.index >= e.lastIndexLocked() {
		e.index = 0
	}
	e.startLocked()
	e.mu.Unlock()

	e.notify(ChangePlayback | ChangeScrubber)
	return true
}

// Pause stops playback, leaving the scrubber where it is
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != Playing {
		e.mu.Unlock()
		return
	}
	e.stopLocked()
	e.mu.Unlock()

	e.notify(ChangePlayback)
}

// Seek moves the scrubber, clamping into the timeline, and always pauses.
// Returns the resulting index.
func (e *Engine) Seek(index int) int {
	e.mu.Lock()
	change := ChangeScrubber
	if e.state == Playing {
		e.stopLocked()
		change |= ChangePlayback
	}
	last := e.lastIndexLocked()
	switch {
	case last < 0:
		index = 0
	case index < 0:
		index = 0
	case index > last:
		index = last
	}
	e.index = index
	e.mu.Unlock()

	e.notify(change)
	return index
}

// ActiveTimers returns the number of running playback tickers (0 or 1)
func (e *Engine) ActiveTimers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timers
}

func (e *Engine) startLocked() {
	t := e.newTicker(e.interval)
	stop := make(chan struct{})
	e.ticker = t
	e.stop = stop
	e.timers++
	e.state = Playing

	e.wg.Add(1)
	go e.run(t, stop)
}

// stopLocked releases the ticker and ends the playback goroutine
func (e *Engine) stopLocked() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	close(e.stop)
	e.ticker = nil
	e.stop = nil
	e.timers--
	e.state = Idle
}

func (e *Engine) run(t Ticker, stop chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if !e.tick(stop) {
				return
			}
		}
	}
}

// tick advances the scrubber one step, stopping at the last index. Returns
// false once this run is no longer the active one.
func (e *Engine) tick(stop chan struct{}) bool {
	e.mu.Lock()
	if e.stop != stop {
		e.mu.Unlock()
		return false
	}
	change := ChangeScrubber
	last := e.lastIndexLocked()
	e.index++
	if e.index >= last {
		e.index = last
		e.stopLocked()
		change |= ChangePlayback
	}
	running := e.stop == stop
	e.mu.Unlock()

	e.notify(change)
	return running
}
