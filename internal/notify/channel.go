// Package notify delivers monitor transitions to contacts through pluggable
// channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

var ErrUnknownChannel = errors.New("unknown notification channel")

// Message is the channel-neutral rendering of a transition.
type Message struct {
	MonitorID   string
	Description string
	Previous    types.Status
	Current     types.Status
	Timestamp   time.Time
	Detail      string
	Test        bool
}

func MessageFromEvent(ev types.TransitionEvent) Message {
	return Message{
		MonitorID:   ev.MonitorID,
		Description: ev.Description,
		Previous:    ev.Previous,
		Current:     ev.Current,
		Timestamp:   ev.Timestamp,
		Detail:      ev.Message,
	}
}

func (m Message) name() string {
	if m.Description != "" {
		return m.Description
	}
	return m.MonitorID
}

// Subject is a one-line summary suitable for mail subjects and chat headlines.
func (m Message) Subject() string {
	if m.Test {
		return fmt.Sprintf("Irisett test notification: %s", m.name())
	}
	return fmt.Sprintf("Irisett: %s is %s", m.name(), m.Current)
}

// Text is the full plain-text body.
func (m Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Subject())
	b.WriteString("\n")
	if m.Test {
		b.WriteString("This is a test message; no state change occurred.\n")
	} else {
		fmt.Fprintf(&b, "State: %s -> %s\n", m.Previous, m.Current)
	}
	fmt.Fprintf(&b, "Monitor: %s\n", m.MonitorID)
	if !m.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Time: %s\n", m.Timestamp.UTC().Format(time.RFC3339))
	}
	if m.Detail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", m.Detail)
	}
	return b.String()
}

// Channel delivers a message to one address in the channel's own format.
type Channel interface {
	Type() string
	Send(ctx context.Context, address string, msg Message) error
}

// Channels is the registry of configured channels keyed by type tag.
type Channels struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewChannels(channels ...Channel) *Channels {
	c := &Channels{channels: make(map[string]Channel, len(channels))}
	for _, ch := range channels {
		c.Register(ch)
	}
	return c
}

func (c *Channels) Register(ch Channel) {
	if ch == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[strings.ToLower(ch.Type())] = ch
}

func (c *Channels) Get(channelType string) (Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[strings.ToLower(channelType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channelType)
	}
	return ch, nil
}

func (c *Channels) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for t := range c.channels {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
