package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/aris-agent/internal/app/conversation"
	"github.com/PabloGalante/aris-agent/internal/app/reconciler"
	"github.com/PabloGalante/aris-agent/internal/config"
	"github.com/PabloGalante/aris-agent/internal/domain"
)

func newChatCmd() *cobra.Command {
	var (
		userID    string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long: `Chat with Aris from the terminal.

Commands: /retry resends the last failed message, /ok acknowledges a
safety notice, /quit exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return chat(ctx, cfg, domain.UserID(userID), domain.SessionID(sessionID), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&userID, "user", "local-user", "user id to chat as")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session (default: start a new one)")
	return cmd
}

func chat(ctx context.Context, cfg *config.Config, userID domain.UserID, sessionID domain.SessionID, in io.Reader, out io.Writer) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if sessionID == "" {
		started, err := a.svc.StartSession(ctx, conversation.StartSessionInput{UserID: userID})
		if err != nil {
			return err
		}
		sessionID = started.Session.ID
	}
	sc := domain.SessionContext{UserID: userID, SessionID: sessionID}

	fmt.Fprintln(out, titleStyle.Render("Aris")+dimStyle.Render("  session "+string(sessionID)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := reconciler.NewClient(a.svc, sc)
	r := &renderer{out: out, seen: make(map[string]string), own: make(map[string]bool)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap := <-client.Updates():
				r.render(snap)
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		return readInput(gctx, in, client, r)
	})

	return g.Wait()
}

// readInput runs until /quit or EOF. The scanner goroutine it starts exits
// with the process; stdin reads cannot be interrupted.
func readInput(ctx context.Context, in io.Reader, client *reconciler.Client, r *renderer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/ok":
			if err := client.Acknowledge(ctx); err != nil {
				return nil
			}
		case "/retry":
			ref := r.lastFailed()
			if ref == "" {
				fmt.Fprintln(r.out, dimStyle.Render("nothing to retry"))
				continue
			}
			if err := client.Retry(ctx, ref); err != nil {
				fmt.Fprintln(r.out, dimStyle.Render(err.Error()))
			}
		default:
			if _, err := client.Submit(ctx, line); err != nil && ctx.Err() == nil {
				fmt.Fprintln(r.out, dimStyle.Render(err.Error()))
			}
		}
	}
}

// renderer prints each entry once per visible state, so the terminal reads
// as a transcript rather than a redraw.
type renderer struct {
	out io.Writer

	mu        sync.Mutex
	seen      map[string]string
	own       map[string]bool
	advisory  string
	failed    string
	suspended bool
}

func (r *renderer) render(snap reconciler.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Advisory != "" && snap.Advisory != r.advisory {
		fmt.Fprintln(r.out, warnStyle.Render(snap.Advisory))
		fmt.Fprintln(r.out, dimStyle.Render("type /ok to continue"))
	}
	r.advisory = snap.Advisory

	for _, e := range snap.Entries {
		state := string(e.Status) + e.Text
		if r.seen[e.Key] == state {
			continue
		}
		r.seen[e.Key] = state

		switch {
		case e.Typing:
			fmt.Fprintln(r.out, dimStyle.Render("aris is typing..."))
		case e.Greeting, e.Role == domain.RoleAssistant:
			fmt.Fprintln(r.out, assistantStyle.Render("aris> ")+e.Text)
			if e.Distortion != nil && e.Distortion.HasDistortion {
				fmt.Fprintln(r.out, dimStyle.Render("  noticed: "+e.Distortion.IdentifiedDistortion))
			}
		case e.Kind == domain.KindCrisisFlag:
			if !r.own[e.ClientRef] {
				fmt.Fprintln(r.out, userStyle.Render("you> ")+dimStyle.Render("(message withheld)"))
			}
		case e.Status == reconciler.StatusFailed:
			r.failed = e.ClientRef
			fmt.Fprintln(r.out, warnStyle.Render("! ")+e.Notice+dimStyle.Render(" (/retry)"))
		case e.Provisional:
			// typed here, already on screen
			r.own[e.ClientRef] = true
		case !r.own[e.ClientRef]:
			fmt.Fprintln(r.out, userStyle.Render("you> ")+e.Text)
		}
	}

	if snap.Suspended && !r.suspended {
		fmt.Fprintln(r.out, dimStyle.Render("(reconnecting...)"))
	}
	r.suspended = snap.Suspended
}

func (r *renderer) lastFailed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}
