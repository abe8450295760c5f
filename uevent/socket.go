package uevent

import (
	"fmt"

	"rootinit/rerr"

	"golang.org/x/sys/unix"
)

// minRcvBuf is the floor this package forces the netlink receive buffer
// to via SO_RCVBUFFORCE; uevent bursts during device enumeration can
// otherwise overrun the kernel's default socket buffer.
const minRcvBuf = 10 * 1024

const recvBufSize = 8192

// Socket is an open NETLINK_KOBJECT_UEVENT listener, bound to the
// kernel multicast group.
type Socket struct {
	fd int
}

// Open creates, configures, and binds the uevent netlink socket.
func Open() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("uevent: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, minRcvBuf); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uevent: SO_RCVBUFFORCE: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uevent: SO_PASSCRED: %w", err)
	}

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0, Groups: 0xFFFFFFFF}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uevent: bind: %w", err)
	}

	return &Socket{fd: fd}, nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error { return unix.Close(s.fd) }

// FD returns the raw file descriptor, for callers that need to
// multiplex it with their own poll loop.
func (s *Socket) FD() int { return s.fd }

// Read blocks until a datagram arrives and returns it parsed. A
// message that fails the credential or source-address checks is not
// skipped; Read returns ErrPermissionDenied for it.
func (s *Socket) Read() (UEvent, error) {
	return s.recvAndValidate()
}

// ReadTimeout polls the socket for up to timeoutMs milliseconds. ok is
// false if the timeout elapsed with nothing queued, which is not an
// error during the sysfs-replay drain loop.
func (s *Socket) ReadTimeout(timeoutMs int) (ev UEvent, ok bool, err error) {
	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return UEvent{}, false, rerr.ErrInterrupted
		}
		return UEvent{}, false, fmt.Errorf("uevent: poll: %w", err)
	}
	if n == 0 {
		return UEvent{}, false, nil
	}
	ev, err = s.recvAndValidate()
	return ev, true, err
}

// recvAndValidate reads one datagram, enforces the peer-credential and
// source-address checks (CVE-2012-3520 class mitigation: a local
// unprivileged process can otherwise forge NETLINK_KOBJECT_UEVENT
// messages), and parses the payload.
func (s *Socket) recvAndValidate() (UEvent, error) {
	buf := make([]byte, recvBufSize)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred))

	n, oobn, _, from, err := unix.Recvmsg(s.fd, buf, oob, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return UEvent{}, rerr.ErrInterrupted
		}
		return UEvent{}, fmt.Errorf("uevent: recvmsg: %w", err)
	}

	nl, ok := from.(*unix.SockaddrNetlink)
	if !ok || nl.Groups == 0 || nl.Pid != 0 {
		return UEvent{}, rerr.ErrPermissionDenied
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(scms) == 0 {
		return UEvent{}, rerr.ErrPermissionDenied
	}
	cred, err := unix.ParseUnixCredentials(&scms[0])
	if err != nil || cred.Uid != 0 {
		return UEvent{}, rerr.ErrPermissionDenied
	}

	return Parse(buf[:n])
}
