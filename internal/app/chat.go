package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ggonzalez94/defi-agent/internal/custody"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/id"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/orchestrator"
	"github.com/ggonzalez94/defi-agent/internal/out"
	"github.com/ggonzalez94/defi-agent/internal/version"
)

const chatHelp = `Type a trade in plain words, e.g. "swap 10 USDC for WETH".
  confirm | yes     execute the quoted swap
  cancel | no       drop the quoted swap
  /unlock           unlock the wallet (password on the next line)
  /lock             lock the wallet
  /wallet           show wallet state
  /status           show the pending swap
  /quit             leave`

// chatSession renders orchestrator events to the terminal. Writes are
// serialized because the confirmation timer emits from its own goroutine.
type chatSession struct {
	mu   sync.Mutex
	w    io.Writer
	mode string
	spin *spinner.Spinner
}

func (c *chatSession) render(ev model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spin != nil && c.spin.Active() {
		c.spin.Stop()
	}
	_ = out.RenderEvent(c.w, ev, c.mode)
}

func (c *chatSession) notice(msg string) {
	c.render(model.Event{Type: model.EventReply, Message: msg, At: time.Now()})
}

func (c *chatSession) fail(err error) {
	c.render(model.Event{Type: model.EventError, Code: clierr.CodeOf(err).String(), Message: err.Error(), At: time.Now()})
}

// readSecret reads the unlock password. A terminal gets a prompt with echo
// off; any other input supplies the next line.
func (c *chatSession) readSecret(in io.Reader, scanner *bufio.Scanner) (string, bool, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		if !scanner.Scan() {
			return "", false, nil
		}
		return scanner.Text(), true, nil
	}
	c.mu.Lock()
	_, _ = fmt.Fprint(c.w, "password: ")
	c.mu.Unlock()
	pw, err := term.ReadPassword(int(f.Fd()))
	c.mu.Lock()
	_, _ = fmt.Fprintln(c.w)
	c.mu.Unlock()
	if err != nil {
		return "", false, clierr.Wrap(clierr.CodeUsage, "read password", err)
	}
	return string(pw), true, nil
}

// busy shows a spinner while fn runs. It is a no-op outside plain mode.
func (c *chatSession) busy(suffix string, fn func()) {
	c.mu.Lock()
	if c.spin != nil {
		c.spin.Suffix = " " + suffix
		c.spin.Start()
	}
	c.mu.Unlock()
	fn()
	c.mu.Lock()
	if c.spin != nil && c.spin.Active() {
		c.spin.Stop()
	}
	c.mu.Unlock()
}

func (s *runtimeState) newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive swap conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := s.buildPipeline(ctx)
			if err != nil {
				return err
			}
			defer p.close()

			chat := &chatSession{w: s.runner.stdout, mode: s.settings.OutputMode}
			if chat.mode == "plain" {
				chat.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(s.runner.stderr))
			}
			if pw := os.Getenv(envWalletPassword); pw != "" && p.wallet.State() == custody.StateLocked {
				if err := p.wallet.Unlock(pw); err != nil {
					chat.fail(err)
				}
			}
			defer p.wallet.Lock()

			session := s.newSession(p, s.log.WithField("session_id", "chat"), chat.render)
			tickCtx, stopTick := context.WithCancel(ctx)
			defer stopTick()
			go runTicker(tickCtx, session, time.Second)

			if chat.mode == "plain" {
				color.New(color.FgCyan, color.Bold).Fprintf(s.runner.stdout, "%s on %s. Tokens: %s. Type /help for commands.\n",
					version.CLIName, id.ChainByID(s.settings.ChainID).Name, strings.Join(p.tokens.Symbols(), ", "))
			}
			return s.chatLoop(ctx, cmd.InOrStdin(), chat, session, p)
		},
	}
}

func (s *runtimeState) chatLoop(ctx context.Context, in io.Reader, chat *chatSession, session *orchestrator.Orchestrator, p *pipeline) error {
	scanner := bufio.NewScanner(in)
	prompt := func() {
		if chat.mode == "plain" {
			chat.mu.Lock()
			_, _ = fmt.Fprint(chat.w, "> ")
			chat.mu.Unlock()
		}
	}
	prompt()
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
		case "/quit", "/exit", "exit", "quit":
			return nil
		case "/help", "help":
			chat.notice(chatHelp)
		case "confirm", "/confirm", "yes", "y":
			var err error
			chat.busy("executing swap", func() { err = session.Confirm(ctx) })
			if err != nil {
				chat.fail(err)
			}
		case "cancel", "/cancel", "no", "n":
			if err := session.Cancel(); err != nil {
				chat.fail(err)
			}
		case "/unlock":
			pw, ok, err := chat.readSecret(in, scanner)
			if err != nil {
				chat.fail(err)
				break
			}
			if !ok {
				return nil
			}
			if err := p.wallet.Unlock(pw); err != nil {
				chat.fail(err)
			} else {
				chat.notice("wallet unlocked")
			}
		case "/lock":
			p.wallet.Lock()
			chat.notice("wallet locked")
		case "/wallet":
			info := p.wallet.Info()
			chat.notice(fmt.Sprintf("account %s: %s %s", info.Account, info.State, info.Address))
		case "/status":
			if pending, ok := session.Pending(); ok {
				chat.notice(fmt.Sprintf("swap %s is %s", pending.ID, pending.State))
			} else {
				chat.notice("no swap pending")
			}
		default:
			var err error
			chat.busy("thinking", func() { err = session.HandleMessage(ctx, line) })
			if err != nil {
				chat.fail(err)
			}
		}
		prompt()
	}
	if err := scanner.Err(); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "read chat input", err)
	}
	return nil
}

type ticker interface {
	Tick(now time.Time) bool
}

// runTicker expires unconfirmed quotes until ctx is done.
func runTicker(ctx context.Context, t ticker, every time.Duration) {
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tk.C:
			t.Tick(now)
		}
	}
}
