package api

import (
	"sync"

	"github.com/bhandras/huddle/internal/database"
	"github.com/bhandras/huddle/internal/models"
)

func modelsFor(db *database.DB) *models.Queries {
	return models.New(db.DB)
}

// recordingConn is a realtime.Conn that counts emitted events.
type recordingConn struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Emit(event string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *recordingConn) Disconnect() {}

func (c *recordingConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}
