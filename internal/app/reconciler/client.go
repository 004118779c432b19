package reconciler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/PabloGalante/aris-agent/internal/app/conversation"
	"github.com/PabloGalante/aris-agent/internal/domain"
	"github.com/PabloGalante/aris-agent/internal/observability"
)

// ErrUnknownRef is returned by Retry when no failed message carries the ref.
var ErrUnknownRef = errors.New("reconciler: no failed message with that ref")

// Backend is the server side a Client talks to.
type Backend interface {
	SendMessage(ctx context.Context, in conversation.SendMessageInput) (*conversation.SendMessageOutput, error)
	Subscribe(ctx context.Context, sc domain.SessionContext) (<-chan domain.LogEvent, error)
}

// Snapshot is one rendering of the session.
type Snapshot struct {
	Entries   []Entry
	Advisory  string
	Suspended bool
}

type command func(ctx context.Context)

// Client keeps a View in sync with a Backend. All view mutations happen on
// the goroutine running Run.
type Client struct {
	backend Backend
	session domain.SessionContext
	view    *View

	cmds    chan command
	updates chan Snapshot
	sends   sync.WaitGroup

	minRetry time.Duration
	maxRetry time.Duration
}

type ClientOption func(*Client)

// WithResubscribeDelay bounds the backoff between subscription attempts.
func WithResubscribeDelay(lo, hi time.Duration) ClientOption {
	return func(c *Client) {
		c.minRetry = lo
		c.maxRetry = hi
	}
}

func WithView(v *View) ClientOption {
	return func(c *Client) { c.view = v }
}

func NewClient(backend Backend, sc domain.SessionContext, opts ...ClientOption) *Client {
	c := &Client{
		backend:  backend,
		session:  sc,
		cmds:     make(chan command),
		updates:  make(chan Snapshot, 1),
		minRetry: 500 * time.Millisecond,
		maxRetry: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	if c.view == nil {
		c.view = NewView()
	}
	return c
}

// Updates delivers the latest snapshot. Intermediate snapshots a slow reader
// missed are dropped.
func (c *Client) Updates() <-chan Snapshot {
	return c.updates
}

// Run subscribes to the session log and serves commands until ctx ends.
// In-flight sends are awaited before it returns.
func (c *Client) Run(ctx context.Context) error {
	ctx = observability.WithSession(ctx, c.session)
	log := observability.LoggerFromContext(ctx)

	defer c.sends.Wait()

	var (
		events <-chan domain.LogEvent
		timer  *time.Timer
		retry  <-chan time.Time
		delay  = c.minRetry
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	schedule := func() {
		c.view.Suspend()
		timer = time.NewTimer(delay)
		retry = timer.C
		delay = min(delay*2, c.maxRetry)
	}
	subscribe := func() {
		ch, err := c.backend.Subscribe(ctx, c.session)
		if err != nil {
			log.Warn("subscribe failed", "error", err, "retry_in", delay)
			schedule()
			return
		}
		events = ch
	}

	subscribe()
	c.publish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-c.cmds:
			cmd(ctx)

		case ev, ok := <-events:
			switch {
			case !ok:
				events = nil
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("subscription closed", "retry_in", delay)
				schedule()
			case ev.Err != nil:
				events = nil
				log.Warn("subscription failed", "error", ev.Err, "retry_in", delay)
				c.view.Apply(ev)
				schedule()
			default:
				if ev.Initial {
					delay = c.minRetry
				}
				c.view.Apply(ev)
			}

		case <-retry:
			retry = nil
			subscribe()
		}
		c.publish()
	}
}

// Submit shows text immediately and sends it in the background. The
// returned ref identifies the echo for Retry and Dismiss.
func (c *Client) Submit(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrEmptyMessage
	}
	reply := make(chan string, 1)
	err := c.do(ctx, func(runCtx context.Context) {
		ref := c.view.Submit(text)
		c.send(runCtx, ref, text)
		reply <- ref
	})
	if err != nil {
		return "", err
	}
	return <-reply, nil
}

// Retry resends a failed message.
func (c *Client) Retry(ctx context.Context, ref string) error {
	reply := make(chan bool, 1)
	err := c.do(ctx, func(runCtx context.Context) {
		text, ok := c.view.Retry(ref)
		if ok {
			c.send(runCtx, ref, text)
		}
		reply <- ok
	})
	if err != nil {
		return err
	}
	if !<-reply {
		return ErrUnknownRef
	}
	return nil
}

func (c *Client) Dismiss(ctx context.Context, ref string) error {
	return c.do(ctx, func(context.Context) { c.view.Dismiss(ref) })
}

// Acknowledge clears the crisis advisory.
func (c *Client) Acknowledge(ctx context.Context) error {
	return c.do(ctx, func(context.Context) { c.view.Acknowledge() })
}

func (c *Client) do(ctx context.Context, cmd command) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send runs on the loop goroutine; the history it captures is the timeline
// as it stood when the user pressed send.
func (c *Client) send(runCtx context.Context, ref, text string) {
	in := conversation.SendMessageInput{
		Session:   c.session,
		Text:      text,
		ClientRef: ref,
		History:   c.view.History(),
	}

	c.sends.Add(1)
	go func() {
		defer c.sends.Done()

		out, err := c.backend.SendMessage(runCtx, in)
		res := Outcome{Err: err}
		if err == nil && out != nil {
			res.Result = out.Result
			res.UserMessage = out.UserMessage
			res.AssistantMessage = out.AssistantMessage
		}
		if err != nil {
			observability.LoggerFromContext(runCtx).Warn("send failed", "client_ref", ref, "error", err)
		}

		select {
		case c.cmds <- func(context.Context) { c.view.Resolve(ref, res) }:
		case <-runCtx.Done():
		}
	}()
}

// publish replaces any unread snapshot with the current one. Only the Run
// goroutine writes to updates, so the send never blocks.
func (c *Client) publish() {
	snap := Snapshot{
		Entries:   c.view.Render(),
		Advisory:  c.view.Advisory(),
		Suspended: c.view.Suspended(),
	}
	select {
	case <-c.updates:
	default:
	}
	c.updates <- snap
}
