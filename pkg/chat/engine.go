package chat

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/DamOTclese/chatbetween/internal"
	"github.com/DamOTclese/chatbetween/pkg/chatwire"
	"github.com/DamOTclese/chatbetween/pkg/metrics"
	"github.com/DamOTclese/chatbetween/pkg/registry"
)

const (
	// DefaultChunkSize bounds each outbound file data block.
	DefaultChunkSize = 1024
	// DefaultInboundBuffer is sized above the largest datagram we expect
	// in one gulp.
	DefaultInboundBuffer = 2 * 1024
)

// ErrFileNotFound reports an operator-initiated send of a file that could
// not be opened. A get response never raises it; a peer with no matching
// file simply does not answer.
var ErrFileNotFound = errors.New("file was not found")

// Wire is the transport surface the engine needs. The UDP transport
// satisfies it in production; tests drive the engine over an in-memory
// implementation.
type Wire interface {
	Send(b []byte) error
	Receive(buf []byte) (int, *net.UDPAddr, error)
}

type Options struct {
	ChunkSize     int
	InboundBuffer int
	Metrics       *metrics.ChatCollector
}

// Engine multiplexes three streams over one unordered, lossy broadcast
// channel: chat text, transfer headers, and transfer data blocks. Inbound
// frames are classified here and routed to the registry or handed back to
// the caller as text; outbound transfers are split into bounded blocks and
// pushed through the wire.
type Engine struct {
	wire    Wire
	reg     *registry.Registry
	opts    Options
	inbound []byte
}

func New(wire Wire, reg *registry.Registry, opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = DefaultInboundBuffer
	}
	return &Engine{
		wire:    wire,
		reg:     reg,
		opts:    opts,
		inbound: make([]byte, opts.InboundBuffer),
	}
}

// SendText broadcasts one chat line. The trailing NUL travels in the frame
// so receivers can treat the payload as a terminated string.
func (e *Engine) SendText(text string) error {
	frame := append([]byte(text), 0)
	if err := e.wire.Send(frame); err != nil {
		return err
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveTextSent()
		e.opts.Metrics.ObserveSend(len(frame))
	}
	return nil
}

// ReadData polls for one inbound datagram and runs it through the
// dispatcher. Transfer headers and continuation data are fully consumed
// here; only plain chat text comes back, verbatim, for the caller to
// display and log. A nil result means nothing arrived or the frame was
// consumed by the protocol.
func (e *Engine) ReadData() []byte {
	n, addr, err := e.wire.Receive(e.inbound)
	if err != nil {
		internal.Debug("receive error ignored", internal.Fields{
			internal.FieldError: err.Error(),
		})
		return nil
	}
	if n <= 0 || addr == nil {
		return nil
	}

	payload := e.inbound[:n]
	peer := addr.IP.String()
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveReceive(n)
	}

	if chatwire.IsHeaderFrame(payload) {
		e.dispatchHeader(payload, peer)
		return nil
	}

	if e.reg.AppendBlock(peer, payload) {
		return nil
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveTextReceived()
	}
	text := make([]byte, n)
	copy(text, payload)
	return text
}

// dispatchHeader decodes a tagged frame and routes by transfer kind. One
// datagram may carry the header immediately followed by the first slice of
// file data; the trailing bytes become the new transfer's first block.
func (e *Engine) dispatchHeader(payload []byte, peer string) {
	var hdr chatwire.TransferHeader
	consumed, err := hdr.Decode(payload)
	if err != nil {
		// Tagged but malformed. A truncated buffer is never
		// reinterpreted as a header or as chat text; the frame is
		// dropped.
		internal.Debug("malformed transfer header dropped", internal.Fields{
			internal.FieldPeer:  peer,
			internal.FieldBytes: len(payload),
			internal.FieldError: err.Error(),
		})
		return
	}

	switch hdr.Kind {
	case chatwire.KindSend:
		e.reg.StartReceive(hdr, peer, payload[consumed:])
	case chatwire.KindGetRequest:
		e.serveGet(hdr.Name, peer)
	default:
		internal.Debug("transfer header with unknown kind dropped", internal.Fields{
			internal.FieldPeer: peer,
		})
	}
}

// SendFile broadcasts one file: a header frame carrying the byte size and
// base name, then the content in bounded blocks until the declared size
// has been emitted. When the file cannot be opened an operator-initiated
// send reports ErrFileNotFound; a get response stays silent, by protocol.
func (e *Engine) SendFile(path string, responseToGet bool) error {
	path = trimPath(path)

	f, err := os.Open(path)
	if err != nil {
		if responseToGet {
			return nil
		}
		return ErrFileNotFound
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		if responseToGet {
			return nil
		}
		return ErrFileNotFound
	}

	hdr := chatwire.TransferHeader{
		Name: filepath.Base(path),
		Size: uint32(info.Size()),
		Kind: chatwire.KindSend,
	}
	if err := e.wire.Send(hdr.Marshal()); err != nil {
		return err
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveSend(chatwire.HeaderLen)
	}

	internal.Info("sending file", internal.Fields{
		internal.FieldFile:  hdr.Name,
		internal.FieldBytes: hdr.Size,
	})

	block := make([]byte, e.opts.ChunkSize)
	remaining := info.Size()
	for remaining > 0 {
		want := int64(len(block))
		if remaining < want {
			want = remaining
		}
		n, readErr := f.Read(block[:want])
		if n > 0 {
			if err := e.wire.Send(block[:n]); err != nil {
				return err
			}
			if e.opts.Metrics != nil {
				e.opts.Metrics.ObserveSend(n)
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				internal.Warn("file read failed mid transfer", internal.Fields{
					internal.FieldFile:  hdr.Name,
					internal.FieldError: readErr.Error(),
				})
			}
			break
		}
		remaining -= want
	}
	return nil
}

// GetFile broadcasts a request that any listener holding the named file
// push it back. The acknowledgement to the caller is local echo only;
// nothing confirms delivery.
func (e *Engine) GetFile(path string) error {
	path = trimPath(path)

	hdr := chatwire.TransferHeader{
		Name: path,
		Size: 0,
		Kind: chatwire.KindGetRequest,
	}
	if err := e.wire.Send(hdr.Marshal()); err != nil {
		return err
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveSend(chatwire.HeaderLen)
	}
	internal.Info("file requested from all listeners", internal.Fields{
		internal.FieldFile: path,
	})
	return nil
}

// serveGet answers a get request by re-entering SendFile as a response.
// The reply is still broadcast, so every listener receives the file, not
// just the requester; that is inherent to the transport.
func (e *Engine) serveGet(name, requester string) {
	internal.Debug("get request received", internal.Fields{
		internal.FieldPeer: requester,
		internal.FieldFile: name,
	})
	_ = e.SendFile(name, true)
}

// TransferTimedOut sweeps the registry and reports whether any inbound
// transfer was reclaimed. Meant to be called once per loop iteration.
func (e *Engine) TransferTimedOut() bool {
	return e.reg.SweepTimeouts() > 0
}

// trimPath drops the leading whitespace and trailing line-ending characters
// console input arrives with.
func trimPath(p string) string {
	p = strings.TrimLeft(p, " \t")
	return strings.TrimRight(p, "\r\n")
}
