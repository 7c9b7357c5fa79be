package network

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// NetlinkLinks manages interfaces through rtnetlink
type NetlinkLinks struct{}

// NewNetlinkLinks returns the rtnetlink backed Links
func NewNetlinkLinks() *NetlinkLinks {
	return &NetlinkLinks{}
}

func isNotFound(err error) bool {
	var nf netlink.LinkNotFoundError
	return errors.As(err, &nf)
}

func (NetlinkLinks) EnsureBridge(name string, addrs []*net.IPNet, mtu int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("failed to look up bridge %s: %w", name, err)
		}
		br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name, MTU: mtu}}
		if err := netlink.LinkAdd(br); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create bridge %s: %w", name, err)
		}
		if link, err = netlink.LinkByName(name); err != nil {
			return fmt.Errorf("failed to look up bridge %s: %w", name, err)
		}
	}

	for _, a := range addrs {
		if err := netlink.AddrAdd(link, &netlink.Addr{IPNet: a}); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to add %s to %s: %w", a, name, err)
		}
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", name, err)
	}
	return nil
}

func (NetlinkLinks) DeleteLink(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up %s: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

func (NetlinkLinks) LinkExists(name string) (bool, error) {
	_, err := netlink.LinkByName(name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (NetlinkLinks) CreateVethPair(host, peer string, mtu int) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: host, MTU: mtu},
		PeerName:  peer,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("failed to create veth pair %s/%s: %w", host, peer, err)
	}
	return nil
}

func (NetlinkLinks) AttachToBridge(name, bridge string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", name, err)
	}
	br, err := netlink.LinkByName(bridge)
	if err != nil {
		return fmt.Errorf("failed to look up bridge %s: %w", bridge, err)
	}
	if err := netlink.LinkSetMaster(link, br); err != nil {
		return fmt.Errorf("failed to attach %s to %s: %w", name, bridge, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", name, err)
	}
	return nil
}

func (NetlinkLinks) MoveToNetns(name string, pid int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", name, err)
	}
	if err := netlink.LinkSetNsPid(link, pid); err != nil {
		return fmt.Errorf("failed to move %s into netns of pid %d: %w", name, pid, err)
	}
	return nil
}

func (NetlinkLinks) ConfigureContainerLink(pid int, peer, ifname string, addrs []*net.IPNet, gateways []net.IP) error {
	ns, err := netns.GetFromPid(pid)
	if err != nil {
		return fmt.Errorf("failed to open netns of pid %d: %w", pid, err)
	}
	defer ns.Close()

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		return fmt.Errorf("failed to open netlink in netns of pid %d: %w", pid, err)
	}
	defer h.Delete()

	link, err := h.LinkByName(peer)
	if err != nil {
		return fmt.Errorf("failed to find %s in container: %w", peer, err)
	}
	if peer != ifname {
		if err := h.LinkSetName(link, ifname); err != nil {
			return fmt.Errorf("failed to rename %s to %s: %w", peer, ifname, err)
		}
		if link, err = h.LinkByName(ifname); err != nil {
			return fmt.Errorf("failed to find %s in container: %w", ifname, err)
		}
	}

	for _, a := range addrs {
		if err := h.AddrAdd(link, &netlink.Addr{IPNet: a}); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to add %s to %s: %w", a, ifname, err)
		}
	}

	if lo, err := h.LinkByName("lo"); err == nil {
		if err := h.LinkSetUp(lo); err != nil {
			return fmt.Errorf("failed to bring up loopback: %w", err)
		}
	}
	if err := h.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", ifname, err)
	}

	for _, gw := range gateways {
		route := &netlink.Route{LinkIndex: link.Attrs().Index, Gw: gw}
		if err := h.RouteAdd(route); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to add default route via %s: %w", gw, err)
		}
	}
	return nil
}

func (NetlinkLinks) SetSysctl(key, value string) error {
	path := filepath.Join("/proc/sys", strings.ReplaceAll(key, ".", "/"))
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
