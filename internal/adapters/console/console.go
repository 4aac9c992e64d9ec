// Package console is the line oriented terminal surface of a session.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/app"
	"github.com/dkeye/audiostream/internal/core"
	"github.com/dkeye/audiostream/internal/domain"
)

// maxLine bounds a single input line. Pasted SDP blobs are a few KB.
const maxLine = 1 << 20

type Session interface {
	Devices() []domain.Device
	CaptureAudio(ctx context.Context, id domain.DeviceID) error
	InitializePeer(role domain.Role) error
	ClosePeer() error
	ConnectPeers(ctx context.Context, text string) error
	ToggleFilter() (bool, error)
	State() app.State
	Subscribe(id string) (<-chan core.Notification, func())
}

const help = `commands:
  devices            list audio inputs
  start [device-id]  capture audio (default input when omitted)
  stream             start streaming (initiator, prints an offer)
  join               join a stream (responder)
  signal <json>      paste the other side's signal data (a bare {...} line works too)
  filter             toggle the lowshelf filter
  status             show session state
  close              close the peer connection
  quit               exit
`

type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Run reads commands from in until quit, EOF or ctx is done.
func Run(ctx context.Context, in io.Reader, out io.Writer, sess Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &printer{out: out}
	notes, unsubscribe := sess.Subscribe("console-" + uuid.NewString())
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-notes:
				if !ok {
					return
				}
				printNotification(p, n)
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	p.printf("%s", help)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := execute(ctx, p, sess, line); quit {
				return nil
			}
		}
	}
}

func printNotification(p *printer, n core.Notification) {
	switch n.Type {
	case "signal":
		p.printf("SIGNAL (paste this on the other side):\n%s\n", n.Data)
	case "remote_stream":
		p.printf("remote stream received\n")
	case "state":
		p.printf("peer state: %s\n", n.State)
	case "error":
		p.printf("peer error: %s\n", n.Error)
	}
}

// execute runs one command line and reports whether the user asked to quit.
func execute(ctx context.Context, p *printer, sess Session, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "{") {
		connect(ctx, p, sess, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	log.Debug().Str("module", "adapters.console").Str("cmd", cmd).Msg("command")

	switch cmd {
	case "devices":
		devs := sess.Devices()
		if len(devs) == 0 {
			p.printf("no audio inputs\n")
		}
		for i, d := range devs {
			mark := ""
			if d.IsDefault {
				mark = " (default)"
			}
			p.printf("%d) %s [%s]%s\n", i+1, d.DisplayName(), d.ID, mark)
		}
	case "start":
		if err := sess.CaptureAudio(ctx, domain.DeviceID(arg)); err != nil {
			p.printf("error accessing audio stream: %v\n", err)
			return false
		}
		p.printf("capturing audio\n")
	case "stream", "join":
		role := domain.RoleFor(cmd == "stream")
		if err := sess.InitializePeer(role); err != nil {
			p.printf("error: %v\n", err)
			return false
		}
		if role.IsInitiator() {
			p.printf("peer started as initiator, waiting for the offer...\n")
		} else {
			p.printf("peer started as responder, paste the offer\n")
		}
	case "signal":
		connect(ctx, p, sess, arg)
	case "filter":
		enabled, err := sess.ToggleFilter()
		if err != nil {
			p.printf("error: %v\n", err)
			return false
		}
		if enabled {
			p.printf("filter on\n")
		} else {
			p.printf("filter off\n")
		}
	case "status":
		printState(p, sess.State())
	case "close":
		if err := sess.ClosePeer(); err != nil {
			p.printf("error: %v\n", err)
			return false
		}
		p.printf("peer closed\n")
	case "help":
		p.printf("%s", help)
	case "quit", "exit":
		return true
	default:
		p.printf("unknown command %q, try help\n", cmd)
	}
	return false
}

func connect(ctx context.Context, p *printer, sess Session, text string) {
	if err := sess.ConnectPeers(ctx, text); err != nil {
		p.printf("error: %v\n", err)
		return
	}
	p.printf("signal accepted\n")
}

func printState(p *printer, st app.State) {
	capture := "none"
	if st.Capturing {
		capture = "default input"
		if st.CaptureDevice != "" {
			capture = string(st.CaptureDevice)
		}
	}
	peer := "none"
	if st.Peer != nil {
		peer = fmt.Sprintf("%s (%s)", st.Peer.Role, st.Peer.ID)
	}
	filter := "off"
	if st.FilterEnabled {
		filter = "on"
	}
	p.printf("capture: %s\npeer: %s\nfilter: %s\n", capture, peer, filter)
}
