package network

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/netfilter"
	"github.com/cuemby/burrow/pkg/types"
)

// bridgeRuleSetName names the rule set shared by every container on the bridge
func bridgeRuleSetName(bridge string) string {
	return "bridge:" + bridge
}

// bridgeRules builds the rules installed once at daemon start: traffic
// between containers on the bridge, return traffic, masquerading of the
// subnet towards the outside, and a final drop for anything leaving the
// bridge that no container chain accepted.
func (e *Engine) bridgeRules() netfilter.RuleSet {
	br := e.cfg.Bridge
	subnet := e.pool.Subnet.String()

	set := netfilter.RuleSet{Name: bridgeRuleSetName(br)}
	add := func(family netfilter.Family, table, parent string, spec ...string) {
		set.Rules = append(set.Rules, netfilter.Rule{Family: family, Table: table, Parent: parent, Spec: spec})
	}

	families := []netfilter.Family{netfilter.IPv4}
	if e.pool.IPv6Prefix != nil {
		families = append(families, netfilter.IPv6)
	}

	for _, fam := range families {
		add(fam, "filter", "FORWARD", "-i", br, "-o", br, "-j", "ACCEPT")
		add(fam, "filter", "FORWARD", "-o", br, "-m", "conntrack", "--ctstate", "RELATED,ESTABLISHED", "-j", "ACCEPT")
	}

	if len(e.cfg.ExternalInterfaces) == 0 {
		add(netfilter.IPv4, "nat", "POSTROUTING", "-s", subnet, "!", "-o", br, "-j", "MASQUERADE")
		if e.pool.IPv6Prefix != nil {
			add(netfilter.IPv6, "nat", "POSTROUTING", "-s", e.pool.IPv6Prefix.String(), "!", "-o", br, "-j", "MASQUERADE")
		}
	} else {
		for _, ext := range e.cfg.ExternalInterfaces {
			add(netfilter.IPv4, "nat", "POSTROUTING", "-s", subnet, "-o", ext, "-j", "MASQUERADE")
			if e.pool.IPv6Prefix != nil {
				add(netfilter.IPv6, "nat", "POSTROUTING", "-s", e.pool.IPv6Prefix.String(), "-o", ext, "-j", "MASQUERADE")
			}
		}
	}

	for _, fam := range families {
		add(fam, "filter", "FORWARD", "-i", br, "!", "-o", br, "-j", "DROP")
	}
	return set
}

// containerRules builds the per-container rule set: anti-spoofing on the
// container's veth, outbound access in NAT mode, published ports and DNS
// redirection to the host resolver.
func (e *Engine) containerRules(id string, alloc *types.NetworkAllocation, spec *types.NetworkSpec) netfilter.RuleSet {
	br := e.cfg.Bridge
	set := netfilter.RuleSet{Name: id}
	add := func(family netfilter.Family, table, parent string, spec ...string) {
		set.Rules = append(set.Rules, netfilter.Rule{Family: family, Table: table, Parent: parent, Spec: spec})
	}

	type addr struct {
		family netfilter.Family
		ip     net.IP
		cidr   string
	}
	addrs := []addr{{netfilter.IPv4, alloc.IPv4, alloc.IPv4.String() + "/32"}}
	if alloc.IPv6 != nil {
		addrs = append(addrs, addr{netfilter.IPv6, alloc.IPv6, alloc.IPv6.String() + "/128"})
	}

	for _, a := range addrs {
		for _, parent := range []string{"INPUT", "FORWARD"} {
			add(a.family, "filter", parent, "-i", br, "-m", "physdev", "--physdev-in", alloc.VethName, "!", "-s", a.cidr, "-j", "DROP")
		}
		if spec.Mode != types.NetworkPrivate {
			add(a.family, "filter", "FORWARD", "-i", br, "!", "-o", br, "-s", a.cidr, "-j", "ACCEPT")
		}
	}

	for _, pf := range spec.PortForwards {
		proto := strings.ToLower(pf.Protocol)
		if proto == "" {
			proto = "tcp"
		}
		hostPort := strconv.Itoa(pf.HostPort)
		ctrPort := strconv.Itoa(pf.ContainerPort)

		for _, a := range addrs {
			dest := a.ip.String() + ":" + ctrPort
			if a.family == netfilter.IPv6 {
				dest = "[" + a.ip.String() + "]:" + ctrPort
			}
			add(a.family, "nat", "PREROUTING", "!", "-i", br, "-p", proto, "--dport", hostPort, "-j", "DNAT", "--to-destination", dest)
			add(a.family, "nat", "OUTPUT", "-m", "addrtype", "--dst-type", "LOCAL", "-p", proto, "--dport", hostPort, "-j", "DNAT", "--to-destination", dest)
			add(a.family, "filter", "FORWARD", "!", "-i", br, "-o", br, "-d", a.cidr, "-p", proto, "--dport", ctrPort, "-j", "ACCEPT")
			add(a.family, "nat", "POSTROUTING", "-s", a.cidr, "-d", a.cidr, "-p", proto, "--dport", ctrPort, "-j", "MASQUERADE")
		}
	}

	if e.cfg.DNSRedirect {
		bridgeIP := e.pool.Bridge.String()
		for _, proto := range []string{"udp", "tcp"} {
			add(netfilter.IPv4, "nat", "PREROUTING", "-i", br, "-s", alloc.IPv4.String()+"/32", "-d", bridgeIP, "-p", proto, "--dport", "53", "-j", "DNAT", "--to-destination", "127.0.0.1")
			add(netfilter.IPv4, "filter", "INPUT", "-i", br, "-s", alloc.IPv4.String()+"/32", "-p", proto, "--dport", "53", "-j", "ACCEPT")
		}
	}

	return set
}

func hostMask(ip net.IP, subnet *net.IPNet) *net.IPNet {
	return &net.IPNet{IP: ip, Mask: subnet.Mask}
}

func describe(alloc *types.NetworkAllocation) string {
	if alloc.IPv6 != nil {
		return fmt.Sprintf("%s,%s via %s", alloc.IPv4, alloc.IPv6, alloc.VethName)
	}
	return fmt.Sprintf("%s via %s", alloc.IPv4, alloc.VethName)
}
