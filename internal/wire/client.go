// Package wire implements the minimal RESP subset the supervisor needs
// to talk to the server over its unix socket: a liveness probe and the
// shutdown command. It is deliberately not a general client; every call
// is one request on one fresh connection.
package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var ErrEmptyReply = errors.New("empty reply")

// Client speaks single-shot RESP requests to a local unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration

	log *zap.Logger
}

type Config struct {
	// SocketPath is the unix socket the server listens on.
	SocketPath string `conf:"socket_path"`

	// Timeout bounds one full round trip, dial included.
	Timeout time.Duration `conf:"timeout"`
}

func NewClient(config Config, log *zap.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 1 * time.Second
	}

	return &Client{
		socketPath: config.SocketPath,
		timeout:    timeout,
		log:        log.Named("wire"),
	}
}

// Ping performs the zero-argument liveness probe. Any reply at all
// means a live server is on the other end, so protocol-level errors
// ("-ERR ...") still count as success; only dial and IO failures are
// reported.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.roundTrip(ctx, "PING")
	if err != nil {
		return err
	}

	if len(reply) == 0 {
		return ErrEmptyReply
	}

	return nil
}

// Shutdown asks the server to exit, persisting its dataset if persist
// is set. A server that honors the command closes the connection
// without replying, so io.EOF is success here.
func (c *Client) Shutdown(ctx context.Context, persist bool) error {
	mode := "NOSAVE"
	if persist {
		mode = "SAVE"
	}

	_, err := c.roundTrip(ctx, "SHUTDOWN", mode)
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}

// roundTrip dials the socket, writes one encoded request, and reads a
// single reply line. The connection is closed before returning.
func (c *Client) roundTrip(ctx context.Context, args ...string) ([]byte, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}

	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to dial socket: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	if _, err := conn.Write(encodeCommand(args...)); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	c.log.Debug("received reply", zap.ByteString("reply", reply))

	return reply, nil
}

// encodeCommand frames args as a RESP array of bulk strings:
// *<n>\r\n followed by $<len>\r\n<bytes>\r\n per argument.
func encodeCommand(args ...string) []byte {
	buf := make([]byte, 0, 32)

	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')

	for _, arg := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(arg)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, arg...)
		buf = append(buf, '\r', '\n')
	}

	return buf
}
