package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/lk2023060901/chat-relay-go/internal/network/router"
	"github.com/lk2023060901/chat-relay-go/pkg/log"
	"github.com/lk2023060901/chat-relay-go/pkg/util/conc"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

const (
	prompt = "> "

	cmdTo   = "/to"
	cmdWho  = "/who"
	cmdHelp = "/help"
	cmdQuit = "/quit"
	cmdExit = "/exit"
)

const helpText = `Commands:
  <message>            broadcast to every client
  /to <name> <message> send to one client
  /who                 list connected clients
  /quit                stop the server`

// Operator 为控制台驱动的服务端操作。
type Operator interface {
	SendBroadcast(ctx context.Context, body string) (router.DeliveryResult, error)
	SendTo(ctx context.Context, name, body string) (router.DeliveryResult, error)
	Names() []string
}

// Console 是服务器的操作员控制台：从输入读取命令，并把中继事件渲染到输出。
//
// Console 实现 relay.EventHandler，可直接作为服务器的事件处理器。
type Console struct {
	log.Binder

	in  io.Reader
	out io.Writer

	mu     sync.Mutex
	op     Operator
	prompt bool
}

// New 创建控制台；当 in 与 out 均为终端时显示输入提示符。
func New(in io.Reader, out io.Writer) *Console {
	c := &Console{
		in:     in,
		out:    out,
		prompt: isTerminal(in) && isTerminal(out),
	}
	c.SetLogger(log.With(log.FieldModule("console")))
	return c
}

// Bind 绑定控制台要操作的服务器，必须在 Run 之前调用。
func (c *Console) Bind(op Operator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.op = op
}

// Run 逐行读取输入并执行，直到输入结束、收到 /quit 或 ctx 取消，均返回 nil。
func (c *Console) Run(ctx context.Context) error {
	c.mu.Lock()
	op := c.op
	c.mu.Unlock()
	if op == nil {
		return merr.WrapErrServiceNotReady("console not bound")
	}

	lines := make(chan string)
	readErr := conc.Go(func() (struct{}, error) {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return struct{}{}, nil
			}
		}
		return struct{}{}, scanner.Err()
	})

	c.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := readErr.Err(); err != nil {
					return errors.Wrap(err, "read console input")
				}
				return nil
			}
			if quit := c.execute(ctx, op, line); quit {
				return nil
			}
			c.showPrompt()
		}
	}
}

// execute 执行一行输入，返回 true 表示请求退出。
func (c *Console) execute(ctx context.Context, op Operator, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, rest := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		cmd, rest = line[:i], strings.TrimSpace(line[i+1:])
	}

	switch {
	case cmd == cmdQuit || cmd == cmdExit:
		return true
	case cmd == cmdHelp:
		c.println(helpText)
	case cmd == cmdWho:
		c.who(op)
	case cmd == cmdTo:
		c.sendTo(ctx, op, rest)
	case strings.HasPrefix(cmd, "//"):
		// "//" 开头的行去掉一个 "/" 后原样广播。
		c.broadcast(ctx, op, line[1:])
	case strings.HasPrefix(cmd, "/"):
		c.printf("Unknown command: %s (try /help)", cmd)
	default:
		c.broadcast(ctx, op, line)
	}
	return false
}

func (c *Console) broadcast(ctx context.Context, op Operator, body string) {
	if _, err := op.SendBroadcast(ctx, body); err != nil {
		c.printf("Broadcast failed: %v", err)
		c.Logger().Warn("operator broadcast failed", zap.Error(err))
		return
	}
	c.printf("Server: %s", body)
}

func (c *Console) sendTo(ctx context.Context, op Operator, args string) {
	name, body, ok := strings.Cut(args, " ")
	body = strings.TrimSpace(body)
	if !ok || name == "" || body == "" {
		c.println("Usage: /to <name> <message>")
		return
	}
	if _, err := op.SendTo(ctx, name, body); err != nil {
		if errors.Is(err, merr.ErrRecipientNotFound) {
			c.printf("No such client: %s", name)
			return
		}
		c.printf("Send to %s failed: %v", name, err)
		c.Logger().Warn("operator send failed", log.FieldName(name), zap.Error(err))
		return
	}
	c.printf("Server -> %s: %s", name, body)
}

func (c *Console) who(op Operator) {
	names := op.Names()
	if len(names) == 0 {
		c.println("No clients connected")
		return
	}
	c.printf("Online (%d): %s", len(names), strings.Join(names, ", "))
}

// OnSessionConnected 实现 relay.EventHandler。
func (c *Console) OnSessionConnected(name string) {
	c.event("Client connected: " + name)
}

// OnSessionDisconnected 实现 relay.EventHandler。
func (c *Console) OnSessionDisconnected(name string, _ error) {
	c.event("Client disconnected: " + name)
}

// OnMessage 实现 relay.EventHandler。
func (c *Console) OnMessage(sender, body string) {
	c.event(sender + ": " + body)
}

// OnSendFailed 实现 relay.EventHandler。
func (c *Console) OnSendFailed(name string, err error) {
	c.event(fmt.Sprintf("Delivery to %s failed: %v", name, err))
}

// event 输出一条异步事件，终端模式下先清除当前提示符再重新显示。
func (c *Console) event(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prompt {
		fmt.Fprint(c.out, "\r\033[K")
	}
	fmt.Fprintln(c.out, line)
	if c.prompt {
		fmt.Fprint(c.out, prompt)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.println(fmt.Sprintf(format, args...))
}

func (c *Console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func (c *Console) showPrompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prompt {
		fmt.Fprint(c.out, prompt)
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
