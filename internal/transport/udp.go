// Package transport adapts the channel driver to real UDP sockets: a
// dual-stack listener (IPv4/IPv6) whose Recv is cancelable via context,
// unlike the blocking synchronous socket read it wraps; Send checks the
// context only before writing.
package transport

import (
	"context"
	"net"
	"os"
	"runtime"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/lbergesio/sechan/internal/logging"
)

// ErrUDPOnly is returned by Listen for any network other than udp,
// udp4, or udp6.
var ErrUDPOnly = errors.New("transport: only udp is supported")

// packetConn is the minimal surface Conn needs from either IP version's
// golang.org/x/net PacketConn, unified so Conn doesn't care which one
// it holds.
type packetConn interface {
	ReadFrom(b []byte) (n int, remoteAddr net.Addr, err error)
	WriteTo(b []byte, remoteAddr net.Addr) (int, error)
	LocalAddr() net.Addr
	Close() error
}

type pconnV4 ipv4.PacketConn

func (c *pconnV4) ReadFrom(b []byte) (int, net.Addr, error) {
	n, _, addr, err := (*ipv4.PacketConn)(c).ReadFrom(b)
	return n, addr, err
}

func (c *pconnV4) WriteTo(b []byte, addr net.Addr) (int, error) {
	return (*ipv4.PacketConn)(c).WriteTo(b, nil, addr)
}

func (c *pconnV4) LocalAddr() net.Addr { return (*ipv4.PacketConn)(c).LocalAddr() }
func (c *pconnV4) Close() error        { return (*ipv4.PacketConn)(c).Close() }

type pconnV6 ipv6.PacketConn

func (c *pconnV6) ReadFrom(b []byte) (int, net.Addr, error) {
	n, _, addr, err := (*ipv6.PacketConn)(c).ReadFrom(b)
	return n, addr, err
}

func (c *pconnV6) WriteTo(b []byte, addr net.Addr) (int, error) {
	return (*ipv6.PacketConn)(c).WriteTo(b, nil, addr)
}

func (c *pconnV6) LocalAddr() net.Addr { return (*ipv6.PacketConn)(c).LocalAddr() }
func (c *pconnV6) Close() error        { return (*ipv6.PacketConn)(c).Close() }

// datagram is one received packet, or the error that ended the read
// loop (at most one error datagram is ever sent, as the last one).
type datagram struct {
	b    []byte
	addr net.Addr
	err  error
}

// Conn is a UDP socket wrapped for the channel driver's needs: an
// inbound queue that Recv can select against alongside ctx.Done, and a
// Send that refuses to block past context cancellation.
type Conn struct {
	pc   packetConn
	log  logging.Logger
	in   chan datagram
	done chan struct{}
}

// Listen opens a UDP socket on address for network ("udp", "udp4", or
// "udp6") and enables source/destination control messages on it the
// way the retrieval pack's IKE transport does. The control messages
// are discarded on read: Recv reports only the sender's address, not
// the local address a datagram arrived on.
func Listen(network, address string, log logging.Logger) (*Conn, error) {
	v4Only, err := checkV4onDarwin(address)
	if err != nil {
		return nil, err
	}

	var pc packetConn
	switch {
	case v4Only, network == "udp4":
		pc, err = listenUDP4(address, log)
	case network == "udp6" || network == "udp":
		pc, err = listenUDP6(address, log)
	default:
		return nil, ErrUDPOnly
	}
	if err != nil {
		return nil, err
	}

	c := &Conn{pc: pc, log: log, in: make(chan datagram, 16), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

// checkV4onDarwin mirrors the retrieval pack's workaround: on Darwin, a
// dual-stack listener bound to a v4 address never yields source
// addresses, so such binds must use the v4-only path instead.
func checkV4onDarwin(address string) (bool, error) {
	if runtime.GOOS != "darwin" {
		return false, nil
	}
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return false, err
	}
	return addr.IP.To4() != nil, nil
}

func listenUDP4(address string, log logging.Logger) (*pconnV4, error) {
	udp, err := net.ListenPacket("udp4", address)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	p := ipv4.NewPacketConn(udp)
	cf := ipv4.FlagTTL | ipv4.FlagSrc | ipv4.FlagDst | ipv4.FlagInterface
	if err := p.SetControlMessage(cf, true); err != nil {
		if protocolNotSupported(err) {
			log.Warn("msg", "udp source address detection not supported", "os", runtime.GOOS)
		} else {
			p.Close()
			return nil, errors.Wrap(err, "set control message")
		}
	}
	return (*pconnV4)(p), nil
}

func listenUDP6(address string, log logging.Logger) (*pconnV6, error) {
	udp, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	p := ipv6.NewPacketConn(udp)
	cf := ipv6.FlagSrc | ipv6.FlagDst | ipv6.FlagInterface
	if err := p.SetControlMessage(cf, true); err != nil {
		if protocolNotSupported(err) {
			log.Warn("msg", "udp source address detection not supported", "os", runtime.GOOS)
		} else {
			p.Close()
			return nil, errors.Wrap(err, "set control message")
		}
	}
	return (*pconnV6)(p), nil
}

func (c *Conn) readLoop() {
	defer close(c.in)
	for {
		b := make([]byte, 3000)
		n, addr, err := c.pc.ReadFrom(b)
		if err != nil {
			select {
			case c.in <- datagram{err: err}:
			case <-c.done:
			}
			return
		}
		select {
		case c.in <- datagram{b: b[:n], addr: addr}:
		case <-c.done:
			return
		}
	}
}

// Send writes b to addr. UDP sends are effectively non-blocking at the
// socket layer, so this only honors ctx for the already-cancelled case.
func (c *Conn) Send(ctx context.Context, addr net.Addr, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := c.pc.WriteTo(b, addr)
	if err != nil {
		return errors.Wrap(err, "write")
	}
	if n != len(b) {
		return errors.New("transport: short write")
	}
	c.log.Debug("msg", "sent", "bytes", n, "to", addr)
	return nil
}

// Recv blocks until a datagram arrives, ctx is done, or the connection
// is closed.
func (c *Conn) Recv(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case d, ok := <-c.in:
		if !ok {
			return nil, nil, errors.New("transport: connection closed")
		}
		if d.err != nil {
			return nil, nil, errors.Wrap(d.err, "read")
		}
		c.log.Debug("msg", "received", "bytes", len(d.b), "from", d.addr)
		return d.b, d.addr, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// FlowSender binds a Conn to one fixed remote address, implementing
// channel.Transport (whose Send takes no address: the channel driver
// is unidirectional and per-flow, so the transport already knows where
// a frame goes).
type FlowSender struct {
	conn   *Conn
	remote net.Addr
}

// NewFlowSender returns a FlowSender that writes every frame to remote
// over conn.
func NewFlowSender(conn *Conn, remote net.Addr) *FlowSender {
	return &FlowSender{conn: conn, remote: remote}
}

// Send implements channel.Transport.
func (f *FlowSender) Send(ctx context.Context, b []byte) error {
	return f.conn.Send(ctx, f.remote, b)
}

// LocalAddr returns the socket's bound local address.
func (c *Conn) LocalAddr() net.Addr { return c.pc.LocalAddr() }

// Close shuts down the socket and stops the read loop.
func (c *Conn) Close() error {
	close(c.done)
	return c.pc.Close()
}

// copied from golang.org/x/net/internal/nettest: that package is
// internal and cannot be imported directly.
func protocolNotSupported(err error) bool {
	switch err := err.(type) {
	case syscall.Errno:
		switch err {
		case syscall.EPROTONOSUPPORT, syscall.ENOPROTOOPT:
			return true
		}
	case *os.SyscallError:
		switch err := err.Err.(type) {
		case syscall.Errno:
			switch err {
			case syscall.EPROTONOSUPPORT, syscall.ENOPROTOOPT:
				return true
			}
		}
	}
	return false
}
