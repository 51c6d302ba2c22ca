//go:build linux

// Package rawsock owns the per-target raw ICMP socket: creation bound to a
// source address, non-blocking send/recv, and reopen-on-fatal-error. Each
// Target gets its own socket, and both IPv4 and IPv6 are supported.
package rawsock

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Family identifies the address family of a Conn's socket.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

// Conn is a single raw ICMP socket bound to a source address, shared by all
// sends/receives for one Target. It is not safe for concurrent use — the
// engine's single-threaded loop is the only caller.
type Conn struct {
	family Family
	source net.IP
	fd     int
}

// New opens a raw ICMP socket of the given family, binds it to source, and
// sets it non-blocking. For FamilyV6, kernel checksum offload is requested
// via IPV6_CHECKSUM so the kernel computes the checksum on every send.
func New(family Family, source net.IP) (*Conn, error) {
	c := &Conn{family: family, source: source}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) open() error {
	var fd int
	var err error
	switch c.family {
	case FamilyV4:
		fd, err = unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	case FamilyV6:
		fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_RAW, unix.IPPROTO_ICMPV6)
	default:
		return fmt.Errorf("rawsock: unknown family %d", c.family)
	}
	if err != nil {
		return fmt.Errorf("rawsock: socket: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("rawsock: set nonblock: %w", err)
	}

	switch c.family {
	case FamilyV4:
		if c.source != nil && !c.source.IsUnspecified() {
			sa := &unix.SockaddrInet4{}
			ip4 := c.source.To4()
			if ip4 == nil {
				return fmt.Errorf("rawsock: source %s is not IPv4", c.source)
			}
			copy(sa.Addr[:], ip4)
			if err := unix.Bind(fd, sa); err != nil {
				return fmt.Errorf("rawsock: bind %s: %w", c.source, err)
			}
		}
	case FamilyV6:
		// IPV6_CHECKSUM takes a byte offset: 2 is the checksum field of the
		// ICMPv6 header; the kernel recomputes it on every send.
		const checksumWordOffset = 2
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_CHECKSUM, checksumWordOffset); err != nil {
			return fmt.Errorf("rawsock: enable IPV6_CHECKSUM offload: %w", err)
		}
		if c.source != nil && !c.source.IsUnspecified() {
			sa := &unix.SockaddrInet6{}
			ip6 := c.source.To16()
			if ip6 == nil {
				return fmt.Errorf("rawsock: source %s is not IPv6", c.source)
			}
			copy(sa.Addr[:], ip6)
			if err := unix.Bind(fd, sa); err != nil {
				return fmt.Errorf("rawsock: bind %s: %w", c.source, err)
			}
		}
	}

	ok = true
	c.fd = fd
	return nil
}

// FD returns the underlying file descriptor for inclusion in the engine's
// poll set.
func (c *Conn) FD() int { return c.fd }

// Family reports the conn's address family.
func (c *Conn) Family() Family { return c.family }

// Close releases the socket.
func (c *Conn) Close() error {
	if c.fd == 0 {
		return nil
	}
	return unix.Close(c.fd)
}

// Reopen rebuilds the socket after a fatal send/recv error (EBADF, ENOTSOCK
// trigger socket close + recreate).
func (c *Conn) Reopen() error {
	_ = unix.Close(c.fd)
	return c.open()
}

// Send transmits pkt to dst. Non-fatal errors are returned for the caller
// to log-and-ignore; IsFatalSendError classifies which ones warrant Reopen.
func (c *Conn) Send(dst net.IP, pkt []byte) error {
	switch c.family {
	case FamilyV4:
		ip4 := dst.To4()
		if ip4 == nil {
			return fmt.Errorf("rawsock: dst %s is not IPv4", dst)
		}
		sa := &unix.SockaddrInet4{}
		copy(sa.Addr[:], ip4)
		return unix.Sendto(c.fd, pkt, 0, sa)
	case FamilyV6:
		ip6 := dst.To16()
		if ip6 == nil {
			return fmt.Errorf("rawsock: dst %s is not IPv6", dst)
		}
		sa := &unix.SockaddrInet6{}
		copy(sa.Addr[:], ip6)
		return unix.Sendto(c.fd, pkt, 0, sa)
	default:
		return fmt.Errorf("rawsock: unknown family %d", c.family)
	}
}

// Recv performs a single non-blocking read. ErrWouldBlock is returned when
// there is currently nothing to read (EAGAIN is treated as no data).
func (c *Conn) Recv(buf []byte) (n int, from net.IP, err error) {
	switch c.family {
	case FamilyV4:
		nn, sa, err := unix.Recvfrom(c.fd, buf, 0)
		if err != nil {
			return 0, nil, classifyRecvErr(err)
		}
		if sa4, ok := sa.(*unix.SockaddrInet4); ok {
			from = net.IP(sa4.Addr[:])
		}
		return nn, from, nil
	case FamilyV6:
		nn, sa, err := unix.Recvfrom(c.fd, buf, 0)
		if err != nil {
			return 0, nil, classifyRecvErr(err)
		}
		if sa6, ok := sa.(*unix.SockaddrInet6); ok {
			from = net.IP(sa6.Addr[:])
		}
		return nn, from, nil
	default:
		return 0, nil, fmt.Errorf("rawsock: unknown family %d", c.family)
	}
}

// ErrWouldBlock is returned by Recv when no datagram is currently queued.
var ErrWouldBlock = errors.New("rawsock: would block")

func classifyRecvErr(err error) error {
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return ErrWouldBlock
	}
	return err
}

// IsFatalSendError reports whether err warrants Reopen (EBADF, ENOTSOCK).
func IsFatalSendError(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOTSOCK)
}
