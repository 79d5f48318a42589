package snowflakeid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

var (
	ErrBadWorkerCIDR = errors.New("provided worker CIDR is invalid")
	ErrBadPodIP      = errors.New("pod ip invalid")
	ErrMaskRange     = errors.New("the specified CIDR mask allows for to many or too few private ip addresses")
)

// NodeFromPrivateIP derives a node identity from the host bits of a private
// pod ip address. The CIDR determines how many of the low bits of the address
// are host bits. It must leave at least one and at most NodeBits host bits,
// otherwise two pods could map to the same node.
func NodeFromPrivateIP(workerCIDR string, podIP string) (NodeID, error) {

	hostBits, err := parseHostBits(workerCIDR)
	if err != nil {
		return NodeUnset, err
	}
	ip, err := parseIP(podIP)
	if err != nil {
		return NodeUnset, err
	}

	addr := binary.BigEndian.Uint32(ip)
	id := addr & ((1 << hostBits) - 1)
	return NodeID(id), nil
}

// parseHostBits parses the CIDR which configures how many bits of the pod
// private ip address make up the node id. It errors if the configuration
// exceeds the assumptions of the id layout.
func parseHostBits(workerCIDR string) (int, error) {
	_, ipNet, err := net.ParseCIDR(workerCIDR)
	if err != nil {
		return 0, fmt.Errorf("%s - issue parsing CIDR: %v: %w", workerCIDR, err, ErrBadWorkerCIDR)
	}
	ones, size := ipNet.Mask.Size()
	if size != 32 {
		return 0, fmt.Errorf("%s - only ipv4 is supported: %w", workerCIDR, ErrBadWorkerCIDR)
	}
	hostBits := size - ones
	if hostBits > NodeBits {
		return 0, fmt.Errorf("%s - allows to many ips: %w", workerCIDR, ErrMaskRange)
	}
	if hostBits < 1 {
		return 0, fmt.Errorf("%s - allows to few ips: %w", workerCIDR, ErrMaskRange)
	}
	return hostBits, nil
}

// parseIP parses a pod ip address and requires that it is allocated from a
// known private ip range.
func parseIP(podIP string) (net.IP, error) {
	ip := net.ParseIP(podIP)
	if ip == nil {
		return nil, fmt.Errorf("%s - issue parsing IP: %w", podIP, ErrBadPodIP)
	}
	if !ip.IsPrivate() {
		return nil, fmt.Errorf("%s - is not a private ip: %w", podIP, ErrBadPodIP)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%s - is not an ipv4 address: %w", podIP, ErrBadPodIP)
	}
	return ip4, nil
}
