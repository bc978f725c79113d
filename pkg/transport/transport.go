package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/DamOTclese/chatbetween/internal"
	"golang.org/x/sys/unix"
)

const (
	// DefaultMaxChunk bounds a single datagram's payload.
	DefaultMaxChunk = 1024
	// DefaultHoldoff is slept between chunks and after a full transmit
	// queue before the remaining bytes are retried.
	DefaultHoldoff = 10 * time.Millisecond
	// InboundBufferSize is sized above the largest UDP frame we expect
	// to receive in one gulp on Ethernet or WiFi.
	InboundBufferSize = 2 * 1024
)

var (
	// ErrNoSocket signals that the broadcast transmit socket could not be
	// acquired. The process cannot continue without it.
	ErrNoSocket = errors.New("unable to acquire a udp socket")
	// ErrNoBind signals that neither receive port could be bound.
	ErrNoBind = errors.New("unable to bind the receive port")
	// ErrSendFailed is a hard transmit error; the remaining bytes of the
	// buffer were abandoned.
	ErrSendFailed = errors.New("udp send failed")
)

type Config struct {
	BasePort      int
	BroadcastAddr string // defaults to the all-ones limited broadcast
	MaxChunk      int
	Holdoff       time.Duration
}

// Transport owns the pair of UDP endpoints the chat engine runs over: a
// broadcast-capable transmit socket and a non-blocking bound receive
// socket. Both are created once here and torn down together in Close;
// there is no rebinding during the process lifetime.
type Transport struct {
	send *net.UDPConn
	recv *net.UDPConn
	dst  *net.UDPAddr

	txPort int
	rxPort int

	maxChunk int
	holdoff  time.Duration

	// writePacket is swapped out by tests to exercise the chunk loop
	// without a socket.
	writePacket func([]byte) (int, error)
}

// New builds the transport from one configured base port. The first
// instance on a host receives on the base port and transmits on base+1;
// when the base port is already taken by an earlier instance the ports are
// swapped, so two co-located copies can talk to each other for local
// testing. Failures are returned, not exited on; callers map ErrNoSocket
// and ErrNoBind onto their own shutdown statuses.
func New(cfg Config) (*Transport, error) {
	if cfg.BasePort <= 0 {
		return nil, fmt.Errorf("%w: base port %d", ErrNoBind, cfg.BasePort)
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = DefaultMaxChunk
	}
	if cfg.Holdoff <= 0 {
		cfg.Holdoff = DefaultHoldoff
	}
	broadcast := cfg.BroadcastAddr
	if broadcast == "" {
		broadcast = "255.255.255.255"
	}

	rxPort := cfg.BasePort
	txPort := cfg.BasePort + 1

	recv, err := bindReceive(rxPort)
	if err != nil {
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: port %d: %v", ErrNoBind, rxPort, err)
		}
		// Another instance of this program already owns the base port, so
		// swap transmit and receive relative to it.
		rxPort, txPort = cfg.BasePort+1, cfg.BasePort
		recv, err = bindReceive(rxPort)
		if err != nil {
			return nil, fmt.Errorf("%w: port %d: %v", ErrNoBind, rxPort, err)
		}
	}

	send, err := openBroadcast()
	if err != nil {
		_ = recv.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoSocket, err)
	}

	t := &Transport{
		send:     send,
		recv:     recv,
		dst:      &net.UDPAddr{IP: net.ParseIP(broadcast), Port: txPort},
		txPort:   txPort,
		rxPort:   rxPort,
		maxChunk: cfg.MaxChunk,
		holdoff:  cfg.Holdoff,
	}
	t.writePacket = func(b []byte) (int, error) {
		return t.send.WriteToUDP(b, t.dst)
	}

	internal.Info("udp transport open", internal.Fields{
		internal.FieldPort:             rxPort,
		internal.FieldKey("tx_port"):   txPort,
		internal.FieldKey("broadcast"): broadcast,
	})
	return t, nil
}

func bindReceive(port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func openBroadcast() (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var optErr error
			err := c.Control(func(fd uintptr) {
				optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return optErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// Send transmits the full buffer as one or more datagrams of at most the
// configured chunk size. A momentarily full transmit queue is waited out
// with the holdoff delay and the remaining bytes are retried; a hard send
// error abandons the remainder, since broadcast UDP offers no delivery
// guarantee that would make further retries meaningful.
func (t *Transport) Send(b []byte) error {
	for len(b) > 0 {
		chunk := len(b)
		if chunk > t.maxChunk {
			chunk = t.maxChunk
		}

		sent, err := t.writePacket(b[:chunk])
		if err != nil {
			if isTransientSendErr(err) {
				time.Sleep(t.holdoff)
				continue
			}
			internal.Error("udp send failed, abandoning remaining bytes", internal.Fields{
				internal.FieldBytes: len(b),
				internal.FieldError: err.Error(),
			})
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}

		b = b[sent:]
		if len(b) > 0 {
			// Let the kernel drain before the next chunk.
			time.Sleep(t.holdoff)
		}
	}
	return nil
}

// Receive polls for at most one pending datagram. When nothing is waiting
// it returns a zero count with no error and no side effects; the caller's
// cooperative loop simply comes back around.
func (t *Transport) Receive(buf []byte) (int, *net.UDPAddr, error) {
	if err := t.recv.SetReadDeadline(time.Now()); err != nil {
		return 0, nil, err
	}
	n, addr, err := t.recv.ReadFromUDP(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	return n, addr, nil
}

// ReceivePort reports the port the receive socket is bound to.
func (t *Transport) ReceivePort() int { return t.rxPort }

// TransmitPort reports the broadcast destination port.
func (t *Transport) TransmitPort() int { return t.txPort }

// Close tears both sockets down. Safe to call once at shutdown.
func (t *Transport) Close() error {
	var first error
	if t.send != nil {
		if err := t.send.Close(); err != nil {
			first = err
		}
		t.send = nil
	}
	if t.recv != nil {
		if err := t.recv.Close(); err != nil && first == nil {
			first = err
		}
		t.recv = nil
	}
	return first
}

// SetBlocking toggles blocking mode on an arbitrary file descriptor. The
// console loop uses it to put stdin into non-blocking mode so keyboard and
// network reads can be polled cooperatively, and to restore it on exit.
func SetBlocking(f *os.File, blocking bool) error {
	return unix.SetNonblock(int(f.Fd()), !blocking)
}

func isTransientSendErr(err error) bool {
	return errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK)
}
