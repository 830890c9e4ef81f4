package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/NicolasHaas/randchat/pkg/client"
	"github.com/NicolasHaas/randchat/pkg/model"
	"github.com/NicolasHaas/randchat/pkg/protocol"
	"github.com/NicolasHaas/randchat/pkg/session"
	"github.com/NicolasHaas/randchat/pkg/transport"
)

const helpText = `Commands:
  /register NAME [INTEREST]  register (again) with a username
  /find                      look for a partner
  /skip                      leave the current partner
  /interest NAME             change your interest
  /image PATH [CAPTION]      send an image file
  /dismiss                   clear the notification
  /who                       show who you are talking to
  /connect                   reconnect after a logout or a lost connection
  /logout                    log out and forget the saved username
  /quit                      exit
Anything else is sent to your partner.
`

// chatEngine is the part of *client.Engine the shell drives.
type chatEngine interface {
	Connect(ctx context.Context) error
	Register(username string, interest model.Interest) error
	FindNewUser() error
	SendMessage(text string) error
	SendImage(caption string, data []byte) error
	Skip() error
	ChangeInterest(interest model.Interest) error
	Dismiss()
	Logout() error
	Snapshot() client.Snapshot
}

type shell struct {
	eng      chatEngine
	out      *printer
	interest model.Interest
	readFile func(string) ([]byte, error)
}

func newShell(eng chatEngine, out *printer, interest model.Interest) *shell {
	return &shell{eng: eng, out: out, interest: interest, readFile: os.ReadFile}
}

// run executes lines until /quit, end of input or ctx cancellation.
func (s *shell) run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if s.exec(ctx, line) {
				return nil
			}
		}
	}
}

// exec runs one input line and reports whether the user asked to quit.
func (s *shell) exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.say(line)
		return false
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(name) {
	case "quit", "exit":
		return true
	case "help", "?":
		s.out.printf("%s", helpText)
	case "register":
		if len(args) == 0 || len(args) > 2 {
			s.out.printf("usage: /register NAME [INTEREST]\n")
			return false
		}
		interest := s.interest
		if len(args) == 2 {
			in, err := model.ParseInterest(args[1])
			if err != nil {
				s.out.error(err)
				return false
			}
			interest = in
		}
		s.register(args[0], interest)
	case "find", "search":
		if s.eng.Snapshot().Session.Phase == session.PhaseMatched {
			s.out.printf("You already have a partner. Use /skip first.\n")
			return false
		}
		if err := s.eng.FindNewUser(); err != nil {
			s.out.error(err)
			return false
		}
		s.out.printf("Looking for a partner...\n")
	case "skip", "next":
		if s.eng.Snapshot().Session.Partner == "" {
			s.out.printf("No partner to skip.\n")
			return false
		}
		s.report(s.eng.Skip())
	case "interest":
		if len(args) != 1 {
			s.out.printf("usage: /interest NAME (%s)\n", interestHelp())
			return false
		}
		in, err := model.ParseInterest(args[0])
		if err != nil {
			s.out.error(err)
			return false
		}
		if err := s.eng.ChangeInterest(in); err != nil {
			s.out.error(err)
			return false
		}
		s.interest = in
	case "image", "img":
		path, caption, _ := strings.Cut(rest, " ")
		if path == "" {
			s.out.printf("usage: /image PATH [CAPTION]\n")
			return false
		}
		if s.eng.Snapshot().Session.Partner == "" {
			s.out.printf("No partner yet. Use /find.\n")
			return false
		}
		data, err := s.readFile(path)
		if err != nil {
			s.out.error(err)
			return false
		}
		s.report(s.eng.SendImage(strings.TrimSpace(caption), data))
	case "dismiss":
		s.eng.Dismiss()
	case "who", "status":
		s.out.status(s.eng.Snapshot())
	case "connect":
		if err := s.eng.Connect(ctx); err != nil {
			s.out.error(err)
		}
	case "logout":
		s.report(s.eng.Logout())
		s.out.printf("Logged out. Use /connect to start over.\n")
	default:
		s.out.printf("Unknown command /%s. Type /help.\n", name)
	}
	return false
}

func (s *shell) register(name string, interest model.Interest) {
	if err := s.eng.Register(name, interest); err != nil {
		s.out.error(err)
		return
	}
	s.interest = interest
	s.out.printf("Registering as %s (%s)...\n", name, interest)
}

func (s *shell) say(text string) {
	if s.eng.Snapshot().Session.Partner == "" {
		s.out.printf("No partner yet. Use /find.\n")
		return
	}
	s.report(s.eng.SendMessage(text))
}

func (s *shell) report(err error) {
	if err != nil {
		s.out.error(err)
	}
}

func interestHelp() string {
	return strings.Join(model.InterestNames(), ", ")
}

// printer renders engine snapshots as a scrolling transcript. It is called from the
// engine loop and from the input loop, so writes are serialized.
type printer struct {
	mu sync.Mutex
	w  io.Writer

	conn    client.ConnState
	partner string
	shown   int
	noteID  uint64
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) render(snap client.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.Conn != p.conn {
		p.conn = snap.Conn
		fmt.Fprintf(p.w, "[%s]\n", snap.Conn)
	}
	if snap.Session.Partner != p.partner {
		p.partner = snap.Session.Partner
		p.shown = 0
	}
	if len(snap.Messages) < p.shown {
		p.shown = 0
	}
	for _, m := range snap.Messages[p.shown:] {
		fmt.Fprintln(p.w, formatMessage(m, snap.Session.Username))
	}
	p.shown = len(snap.Messages)

	if n := snap.Notification; n != nil && n.ID != p.noteID {
		p.noteID = n.ID
		fmt.Fprintf(p.w, "*** %s ***\n", n.Text)
	}
}

func (p *printer) registered(id model.Identity) {
	p.printf("Registered as %s (interest: %s). Use /find to meet someone.\n", id.Username, id.Interest)
}

func (p *printer) error(err error) {
	p.printf("error: %s\n", describe(err))
}

func (p *printer) status(snap client.Snapshot) {
	s := snap.Session
	var b strings.Builder
	fmt.Fprintf(&b, "connection: %s\n", snap.Conn)
	if s.Username == "" {
		b.WriteString("not registered\n")
	} else {
		fmt.Fprintf(&b, "you: %s (interest: %s)\n", s.Username, s.Interest)
	}
	switch {
	case s.Partner != "":
		fmt.Fprintf(&b, "partner: %s\n", s.Partner)
	case s.Searching:
		b.WriteString("partner: searching...\n")
	case s.Phase == session.PhaseAwaitingMatch:
		b.WriteString("partner: none (use /find)\n")
	}
	p.printf("%s", b.String())
}

func formatMessage(m model.Message, self string) string {
	author := m.Author
	if m.IsFrom(self) {
		author = "you"
	}
	text := m.Text
	if m.HasImage() {
		label := "[image]"
		if data, mime, err := protocol.DecodeImage(m.Image); err == nil {
			label = fmt.Sprintf("[image %s, %d bytes]", mime, len(data))
		}
		text = strings.TrimSpace(label + " " + text)
	}
	return fmt.Sprintf("<%s> %s", author, text)
}

// describe turns the engine's typed errors into a line for the transcript.
func describe(err error) string {
	var verr *model.ValidationError
	var perr *session.ProtocolError
	var cerr *transport.ConnectionError
	switch {
	case errors.As(err, &verr) && verr.Remote:
		return "server rejected " + verr.Field + ": " + verr.Reason.Error()
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &perr):
		return perr.Message
	case errors.Is(err, transport.ErrNotConnected):
		return "not connected (use /connect)"
	case errors.Is(err, session.ErrNotRegistered):
		return "register first with /register NAME"
	case errors.Is(err, session.ErrRegistrationPending):
		return "registration already in progress"
	case errors.Is(err, session.ErrAlreadyRegistered):
		return "already registered (use /logout to change your name)"
	case errors.As(err, &cerr):
		return "connection to " + cerr.Endpoint + " failed: " + cerr.Err.Error()
	default:
		return err.Error()
	}
}
