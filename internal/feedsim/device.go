package feedsim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/protocol"
	"github.com/okian/racefeed/pkg/logger"
)

// ErrUnexpectedReply is returned when the service answers a ping with
// something other than its acknowledgment.
var ErrUnexpectedReply = errors.New("unexpected reply")

// Device is the device side of one protocol connection.
type Device struct {
	conn       net.Conn
	r          *bufio.Reader
	parser     protocol.Parser
	terminator string
	timeout    time.Duration
	handshake  []string
	log        logger.Logger
}

// Dial connects to the service, sends the greeting, reads the negotiation
// lines and acknowledges the commands in it.
func Dial(ctx context.Context, cfg DeviceConfig) (*Device, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	terminator := cfg.Terminator
	if terminator == "" {
		terminator = protocol.DefaultLineTerminator
	}
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	d := &Device{
		conn:       conn,
		r:          bufio.NewReader(conn),
		parser:     protocol.NewParser(cfg.Separator, cfg.FormatID),
		terminator: terminator,
		timeout:    timeout,
		log:        logger.Get().Named("device"),
	}

	if err := d.writeLine(greeting); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send greeting: %w", err)
	}
	want := len(protocol.Handshake(d.parser.Separator))
	for range want {
		line, err := d.readLine()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("read handshake: %w", err)
		}
		d.handshake = append(d.handshake, line)
	}
	for _, cmd := range protocol.Commands {
		if err := d.writeLine(protocol.Command(d.parser.Separator, protocol.AckPrefix, cmd)); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("ack %s: %w", cmd, err)
		}
	}
	d.log.Info(ctx, "handshake complete", logger.String("addr", cfg.Addr), logger.Int("lines", len(d.handshake)))
	return d, nil
}

// Handshake returns the negotiation lines received from the service.
func (d *Device) Handshake() []string { return d.handshake }

// Send writes one read.
func (d *Device) Send(rec model.TimingRecord) error {
	return d.writeLine(d.parser.Encode(rec))
}

// SendLine writes a raw line.
func (d *Device) SendLine(line string) error {
	return d.writeLine(line)
}

// Ping sends a keepalive and waits for the acknowledgment.
func (d *Device) Ping() error {
	if err := d.writeLine(protocol.Ping); err != nil {
		return err
	}
	line, err := d.readLine()
	if err != nil {
		return fmt.Errorf("read ping reply: %w", err)
	}
	if line != protocol.PingAck(d.parser.Separator) {
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}
	return nil
}

// Close disconnects.
func (d *Device) Close() error {
	return d.conn.Close()
}

func (d *Device) writeLine(line string) error {
	_ = d.conn.SetWriteDeadline(time.Now().Add(d.timeout))
	_, err := io.WriteString(d.conn, line+d.terminator)
	return err
}

func (d *Device) readLine() (string, error) {
	_ = d.conn.SetReadDeadline(time.Now().Add(d.timeout))
	line, err := d.r.ReadString(d.terminator[len(d.terminator)-1])
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, d.terminator), nil
}
