package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/chat-relay-go/internal/network/connection"
	"github.com/lk2023060901/chat-relay-go/internal/network/connector"
	"github.com/lk2023060901/chat-relay-go/pkg/log"
	"github.com/lk2023060901/chat-relay-go/pkg/util/conc"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
	"github.com/lk2023060901/chat-relay-go/pkg/util/retry"
)

const quitCommand = "/quit"

// 服务端拒绝名字时回写的提示行前缀。
const (
	rejectPrefix     = "ERR "
	rejectNameTaken  = "ERR name taken: "
	rejectServerFull = "ERR server full"
)

var errQuit = errors.New("quit")

// Config 描述命令行客户端的配置。
type Config struct {
	// Addr 为服务端地址，"host:port" 表示 TCP，"ws://host:port/ws" 表示 WebSocket。
	Addr string
	// Name 为登记的显示名。
	Name string

	// DialAttempts 为拨号的最多尝试次数。
	DialAttempts uint
	// DialTimeout 为单次拨号超时。
	DialTimeout time.Duration

	Connection connection.Config
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:1234",
		DialAttempts: 5,
		DialTimeout:  5 * time.Second,
		Connection:   connection.DefaultConfig(),
	}
}

// Client 是连接到中继服务器的一条客户端连接。
type Client struct {
	log.Binder

	name string
	conn connection.Connection
}

// Dial 连接服务端并发送名字行，拨号失败时按退避策略重试。
//
// 名字是否被接受要等到读取第一行回复才能知道，参见 Run。
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, merr.WrapErrParameterMissing("name")
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = 1
	}

	logger := log.With(log.FieldModule("client"), zap.String("addr", cfg.Addr), log.FieldName(name))
	dialer := connector.New(connector.Config{
		DialTimeout: cfg.DialTimeout,
		Connection:  cfg.Connection,
	})

	var conn connection.Connection
	err := retry.Do(ctx, func() error {
		c, err := dialer.Dial(ctx, cfg.Addr)
		if err != nil {
			if errors.Is(err, merr.ErrParameterMissing) {
				return retry.Unrecoverable(err)
			}
			return err
		}
		conn = c
		return nil
	}, retry.Attempts(cfg.DialAttempts), retry.Sleep(100*time.Millisecond), retry.MaxSleepTime(2*time.Second))
	if err != nil {
		return nil, err
	}

	if err := conn.WriteLine(name); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &Client{name: name, conn: conn}
	c.SetLogger(logger)
	c.Logger().Info("connected", log.FieldRemote(conn.RemoteAddr()))
	return c, nil
}

// Name 返回登记的显示名。
func (c *Client) Name() string {
	return c.name
}

// Send 发送一行消息。
func (c *Client) Send(body string) error {
	return c.conn.WriteLine(body)
}

// Recv 读取服务端发来的一行。
func (c *Client) Recv() (string, error) {
	return c.conn.ReadLine()
}

// Close 关闭连接，可重复调用。
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run 把 in 中的每一行发送给服务端，并把收到的行写到 out，本地发送的行显示为 "You: <msg>"。
//
// 返回：
//   - 输入结束或输入 /quit 时返回 nil；
//   - 名字被拒绝时返回 merr.ErrNameTaken 或 merr.ErrNameInvalid，服务器已满时返回 merr.ErrServiceUnavailable；
//   - 服务端关闭连接时返回 merr.ErrServerClosed。
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	w := &syncWriter{w: out}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.recvLoop(w)
	})
	g.Go(func() error {
		return c.sendLoop(gctx, in, w)
	})
	g.Go(func() error {
		<-gctx.Done()
		return c.Close()
	})

	err := g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

func (c *Client) recvLoop(w *syncWriter) error {
	first := true
	for {
		line, err := c.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || !c.conn.Alive() {
				if !c.conn.Alive() {
					// 本端主动关闭。
					return nil
				}
				w.println("Disconnected from server")
				return merr.WrapErrServerClosed("disconnected by server")
			}
			return err
		}
		if first {
			first = false
			if err := rejection(line); err != nil {
				w.println(line)
				return err
			}
		}
		w.println(line)
	}
}

func (c *Client) sendLoop(ctx context.Context, in io.Reader, w *syncWriter) error {
	lines := make(chan string)
	readErr := conc.Go(func() (struct{}, error) {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return struct{}{}, nil
			}
		}
		return struct{}{}, scanner.Err()
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := readErr.Err(); err != nil {
					return errors.Wrap(err, "read client input")
				}
				return errQuit
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == quitCommand {
				return errQuit
			}
			if err := c.Send(line); err != nil {
				return err
			}
			w.println("You: " + line)
		}
	}
}

// rejection 把服务端的拒绝行转换为对应的错误，其他行返回 nil。
func rejection(line string) error {
	switch {
	case !strings.HasPrefix(line, rejectPrefix):
		return nil
	case strings.HasPrefix(line, rejectNameTaken):
		return merr.WrapErrNameTaken(strings.TrimPrefix(line, rejectNameTaken))
	case line == rejectServerFull:
		return merr.WrapErrServiceUnavailable("server full")
	default:
		return merr.WrapErrNameInvalid("", strings.TrimPrefix(line, rejectPrefix))
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) println(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.w, line)
}
