// internal/events/events.go
//
// Game lifecycle notifications.
// When NATS_URL is configured, events are published as JSON on:
//   - memory.game.started   (new board dealt)
//   - memory.game.finished  (all pairs matched)
// Without a broker the server uses Nop and nothing leaves the process.

package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	SubjectStarted  = "memory.game.started"
	SubjectFinished = "memory.game.finished"
)

// Started is published whenever a board is dealt.
type Started struct {
	GameID  string    `json:"gameId"`
	OwnerID string    `json:"ownerId"`
	At      time.Time `json:"at"`
}

// Finished is published once per completed board.
type Finished struct {
	GameID  string    `json:"gameId"`
	OwnerID string    `json:"ownerId"`
	Scores  [2]int    `json:"scores"`
	Winner  int       `json:"winner"`
	Moves   int       `json:"moves"`
	Seconds int       `json:"seconds"`
	At      time.Time `json:"at"`
}

// Publisher sends a JSON-encoded payload on subject.
type Publisher interface {
	Publish(subject string, v any) error
	Close()
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }
func (Nop) Close()                    {}

// NATS publishes over a broker connection.
type NATS struct {
	nc *nats.Conn
}

// Connect dials url. An empty url yields Nop.
func Connect(url string) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("memory-go-server"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATS{nc: nc}, nil
}

func (p *NATS) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.nc.Publish(subject, data)
}

// Close flushes pending messages and closes the connection.
func (p *NATS) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
