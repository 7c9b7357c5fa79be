package network

import (
	"net"
)

// Links is the host interface management the engine drives. NetlinkLinks is
// the Linux implementation.
type Links interface {
	// EnsureBridge creates the bridge if missing, assigns addrs and brings it up
	EnsureBridge(name string, addrs []*net.IPNet, mtu int) error
	DeleteLink(name string) error
	LinkExists(name string) (bool, error)

	// CreateVethPair creates host and peer in the host namespace
	CreateVethPair(host, peer string, mtu int) error
	AttachToBridge(link, bridge string) error
	MoveToNetns(link string, pid int) error

	// ConfigureContainerLink renames peer to ifname inside the network
	// namespace of pid, assigns addrs, brings it and loopback up and installs
	// default routes through the given gateways.
	ConfigureContainerLink(pid int, peer, ifname string, addrs []*net.IPNet, gateways []net.IP) error

	SetSysctl(key, value string) error
}
