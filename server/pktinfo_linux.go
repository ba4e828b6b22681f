package server

import "golang.org/x/sys/unix"

// setPktinfo asks for the destination address of every datagram.
func setPktinfo(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1)
}
