// internal/game/session.go
//
// Session runtime around one controller.
// Responsibilities:
//   - Serialize selections, ticks, delay timeouts and new-game requests on one mutex.
//   - Run the elapsed-time ticker and the mismatch delay timer.
//   - Rebuild the board on new game; a failed build leaves the session untouched.
//   - Fan Updates out to subscribers (websocket clients) without blocking play.
//   - Report the finished game exactly once per board via the OnFinish hook.

package game

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory/apps/go-server/internal/deck"
)

// Default timings.
const (
	DefaultDelay = 800 * time.Millisecond
	DefaultTick  = time.Second
)

// ErrClosed is returned by NewGame once the session has been closed.
var ErrClosed = errors.New("session closed")

// BoardSource builds a fresh board. *deck.Builder satisfies it.
type BoardSource interface {
	Build() ([]deck.Card, error)
}

// Options tune a Session. Zero values fall back to the defaults.
type Options struct {
	Delay    time.Duration
	Tick     time.Duration
	OnFinish func(id string, s Summary) // called outside the session lock
}

// Session owns a controller plus its timers.
type Session struct {
	ID      string
	Created time.Time

	mu       sync.Mutex
	game     *Game
	boards   BoardSource
	opts     Options
	delay    *time.Timer
	stopTick chan struct{}
	subs     map[int]chan Update
	nextSub  int
	closed   bool
}

// NewSession builds the first board and starts the clock.
// It fails with the builder's error (deck.ErrInsufficientAssets, deck.ErrMissingCover).
func NewSession(boards BoardSource, opts Options) (*Session, error) {
	board, err := boards.Build()
	if err != nil {
		return nil, err
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	s := &Session{
		ID:      uuid.NewString(),
		Created: time.Now().UTC(),
		game:    New(board),
		boards:  boards,
		opts:    opts,
		subs:    make(map[int]chan Update),
	}
	s.mu.Lock()
	s.startClock()
	s.mu.Unlock()
	return s, nil
}

// Select forwards a card click to the controller and schedules the mismatch delay if needed.
func (s *Session) Select(slot int) Update {
	s.mu.Lock()
	if s.closed {
		u := s.game.ignored(EventSelect)
		s.mu.Unlock()
		return u
	}
	u := s.game.OnCardSelected(slot)
	if u.Delay {
		s.scheduleDelay(u.Round)
	}
	if !u.Ignored {
		s.broadcast(u)
	}
	s.mu.Unlock()

	s.finished(u)
	return u
}

// NewGame rebuilds the board and resets all counters.
// On a build error the current board and clock are left as they were.
func (s *Session) NewGame() (Update, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Update{}, ErrClosed
	}

	board, err := s.boards.Build()
	if err != nil {
		return Update{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Close may have won the race while the board was being built.
	if s.closed {
		return Update{}, ErrClosed
	}
	if s.delay != nil {
		s.delay.Stop()
		s.delay = nil
	}
	s.stopClock()
	u := s.game.OnNewGame(board)
	s.startClock()
	s.broadcast(u)
	return u, nil
}

// Snapshot returns the full current view.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Snapshot()
}

// State returns a copy of the controller state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.State()
}

// Subscribe registers a listener. The returned cancel func must be called when done.
// Updates are dropped for a listener whose buffer is full.
func (s *Session) Subscribe(buf int) (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Update, buf)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close stops the timers and disconnects every subscriber.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.delay != nil {
		s.delay.Stop()
		s.delay = nil
	}
	s.stopClock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// scheduleDelay arms the mismatch timer for round. Caller holds mu.
func (s *Session) scheduleDelay(round int) {
	if s.delay != nil {
		s.delay.Stop()
	}
	s.delay = time.AfterFunc(s.opts.Delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		u := s.game.OnDelayElapsed(round)
		if u.Ignored {
			log.Debug().Str("gameId", s.ID).Int("round", round).Msg("stale delay ignored")
			return
		}
		s.delay = nil
		s.broadcast(u)
	})
}

// startClock launches the tick goroutine. Caller holds mu.
func (s *Session) startClock() {
	stop := make(chan struct{})
	s.stopTick = stop
	t := time.NewTicker(s.opts.Tick)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.mu.Lock()
				// A new clock may have replaced this one while we waited for the lock.
				if s.stopTick != stop {
					s.mu.Unlock()
					return
				}
				u := s.game.OnTick()
				if !u.Ignored {
					s.broadcast(u)
				}
				s.mu.Unlock()
			}
		}
	}()
}

// stopClock stops the tick goroutine if one is running. Caller holds mu.
func (s *Session) stopClock() {
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}

// broadcast sends u to every subscriber without blocking. Caller holds mu.
func (s *Session) broadcast(u Update) {
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// finished invokes OnFinish when u carries the end-of-game summary.
func (s *Session) finished(u Update) {
	if u.Summary == nil || s.opts.OnFinish == nil {
		return
	}
	s.opts.OnFinish(s.ID, *u.Summary)
}
