package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/present"
	"github.com/soyeahso/supportsync/internal/replica"
)

// console draws dirty regions as plain text. It is registered on the
// presentation trigger and only ever redraws what an event touched.
type console struct {
	mu       sync.Mutex
	w        io.Writer
	rep      *replica.Store
	sessions func() []*domain.Session
}

func newConsole(w io.Writer, rep *replica.Store, sessions func() []*domain.Session) *console {
	return &console{w: w, rep: rep, sessions: sessions}
}

// attach registers the console on every region and for notices.
func (c *console) attach(t *present.Trigger) {
	t.OnAll("console", c.render)
	t.OnNotice("console", c.notice)
}

func (c *console) render(_ context.Context, r present.Region) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch r {
	case present.SessionsList:
		return c.renderSessions()
	case present.FocusedSession:
		return c.renderFocus()
	case present.AgentsList:
		return c.renderAgents()
	case present.Counts:
		n := c.rep.Counts()
		_, err := fmt.Fprintf(c.w, "── active %d · waiting %d · unread %d · agents online %d\n",
			n.Active, n.Waiting, n.Unread, n.OnlineAgents)
		return err
	}
	return nil
}

func (c *console) renderSessions() error {
	list := c.sessions()
	fmt.Fprintf(c.w, "── sessions (%d)\n", len(list))
	focus := c.rep.Focus()
	for _, s := range list {
		marker := " "
		if s.ID == focus {
			marker = ">"
		}
		unread := ""
		if s.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d]", s.UnreadCount)
		}
		agent := ""
		if s.AgentName != "" {
			agent = " @" + s.AgentName
		}
		if _, err := fmt.Fprintf(c.w, "%s #%-6s %-8s %-20s%s%s  %s\n",
			marker, s.ID, s.Status, s.CustomerName, agent, unread, clip(s.LastMessage, 40)); err != nil {
			return err
		}
	}
	return nil
}

func (c *console) renderFocus() error {
	v := c.rep.View()
	if v.Placeholder {
		if v.Session != nil {
			_, err := fmt.Fprintf(c.w, "── session #%s is closed\n", v.Session.ID)
			return err
		}
		_, err := fmt.Fprintln(c.w, "── no active chat")
		return err
	}
	s := v.Session
	fmt.Fprintf(c.w, "── #%s %s (%s)", s.ID, s.CustomerName, s.Status)
	if s.Customer != nil && s.Customer.Email != "" {
		fmt.Fprintf(c.w, " <%s>", s.Customer.Email)
	}
	fmt.Fprintln(c.w)
	for _, m := range v.Messages {
		name := m.SenderName
		if name == "" {
			name = string(m.SenderType)
		}
		body := m.Body
		if m.AttachmentURL != "" {
			body = strings.TrimSpace(body + " " + m.AttachmentURL)
		}
		fmt.Fprintf(c.w, "  %s %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), name, body)
	}
	if v.Typing {
		fmt.Fprintln(c.w, "  … typing")
	}
	_, err := fmt.Fprintf(c.w, "  [compose %s · actions %s · assign %s]\n",
		onOff(v.Controls.Compose), onOff(v.Controls.Actions), onOff(v.Controls.Assign))
	return err
}

func (c *console) renderAgents() error {
	agents := c.rep.Agents()
	fmt.Fprintf(c.w, "── agents (%d)\n", len(agents))
	for _, a := range agents {
		state := "away"
		if a.IsAvailable {
			state = "online"
		}
		if _, err := fmt.Fprintf(c.w, "  %-20s %-6s %d active\n", a.DisplayName(), state, a.ActiveSessions); err != nil {
			return err
		}
	}
	return nil
}

func (c *console) notice(_ context.Context, n domain.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "!! %s: %s\n", n.Title, n.Message)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// controller is the part of the engine the console drives.
type controller interface {
	Focus(ctx context.Context, id string) error
	Unfocus(ctx context.Context) error
	SendMessage(ctx context.Context, body, attachmentURL string) error
	Typing(ctx context.Context) error
	Assign(ctx context.Context, id, agentID string) error
	Close(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	DeleteMessage(ctx context.Context, sessionID, messageID string) error
	LeaveAsCustomer(ctx context.Context) error
	SetFilter(ctx context.Context, f replica.Filter) error
	SetAutoAssign(ctx context.Context, on bool) error
	SetWidgetOpen(ctx context.Context, open bool) error
}

// usageError is a malformed command; its text is the usage line.
type usageError string

func (u usageError) Error() string { return string(u) }

const commandHelp = `commands:
  focus <id>             open a session
  unfocus                close the chat pane
  send <text>            send a message to the focused session
  attach <url> [text]    send an attachment
  typing                 signal that you are typing
  assign <id> [agent]    assign a session (default: yourself)
  close <id>             close a session
  delete <id>            delete a session
  delete-msg <id> <msg>  delete one message
  filter <all|unassigned|mine|high>
  autoassign <on|off>
  open | hide            show or hide the widget
  leave                  leave the chat as the customer
  help`

// execute runs one console command line against the engine.
func execute(ctx context.Context, ctl controller, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "focus":
		if len(args) != 1 {
			return usageError("focus <id>")
		}
		return ctl.Focus(ctx, args[0])
	case "unfocus":
		return ctl.Unfocus(ctx)
	case "send", "say":
		return ctl.SendMessage(ctx, rest, "")
	case "attach":
		if len(args) == 0 {
			return usageError("attach <url> [text]")
		}
		url, text, _ := strings.Cut(rest, " ")
		return ctl.SendMessage(ctx, strings.TrimSpace(text), url)
	case "typing":
		return ctl.Typing(ctx)
	case "assign":
		switch len(args) {
		case 1:
			return ctl.Assign(ctx, args[0], "")
		case 2:
			return ctl.Assign(ctx, args[0], args[1])
		}
		return usageError("assign <id> [agent]")
	case "close":
		if len(args) != 1 {
			return usageError("close <id>")
		}
		return ctl.Close(ctx, args[0])
	case "delete":
		if len(args) != 1 {
			return usageError("delete <id>")
		}
		return ctl.DeleteSession(ctx, args[0])
	case "delete-msg":
		if len(args) != 2 {
			return usageError("delete-msg <id> <msg>")
		}
		return ctl.DeleteMessage(ctx, args[0], args[1])
	case "filter":
		if len(args) != 1 {
			return usageError("filter <all|unassigned|mine|high>")
		}
		return ctl.SetFilter(ctx, replica.ParseFilter(args[0]))
	case "autoassign":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return usageError("autoassign <on|off>")
		}
		return ctl.SetAutoAssign(ctx, args[0] == "on")
	case "open":
		return ctl.SetWidgetOpen(ctx, true)
	case "hide":
		return ctl.SetWidgetOpen(ctx, false)
	case "leave":
		return ctl.LeaveAsCustomer(ctx)
	case "help":
		return usageError(commandHelp)
	default:
		return usageError(fmt.Sprintf("unknown command %q, try help", cmd))
	}
}
