/*
Package network attaches containers to a host bridge.

The Engine owns the bridge device, an address Allocator over the configured
range, the host side of each container's veth pair, and the per-container
firewall rule set applied through the netfilter package.

# Setup

Setup runs after the runtime has created the container's init process (the
create-runtime stage), because the peer interface is moved into the network
namespace of that process:

	Allocate address ──► reserve vethN ──► create veth pair
	        │
	        ▼
	attach vethN to bridge ──► move vethNp into netns(pid)
	        │
	        ▼
	rename to eth0, assign address, default route via bridge
	        │
	        ▼
	apply container rule set ──► record allocation in the store

Each completed step pushes an undo action. When a later step fails the
actions run in reverse order, so a failed Setup leaves no interface, rule or
address behind.

# Teardown

Teardown only touches host-side state: it removes the container's chains,
deletes the host veth (which takes the peer with it) and returns the address
to the pool. It does not need the container process to exist and it is safe
to call twice.

# Addressing

Addresses are handed out from a cursor that only moves forward and wraps at
the end of the range. A released address is therefore reused only after the
rest of the range has been tried, which keeps stale ARP and conntrack entries
for a dead container from catching a new one. The cursor is persisted in the
store so the behaviour survives a daemon restart.

When an IPv6 prefix is configured the IPv6 address of a container is its IPv4
address mapped into the low 32 bits of the prefix.

# Rules

Bridge wide rules (installed by Init):

	filter FORWARD  -i br -o br -j ACCEPT
	filter FORWARD  -o br conntrack RELATED,ESTABLISHED -j ACCEPT
	nat POSTROUTING -s subnet ! -o br -j MASQUERADE
	filter FORWARD  -i br ! -o br -j DROP

Per container:

	anti-spoofing: traffic from vethN with any other source address is dropped
	nat mode:      traffic from the container address may leave the bridge
	port forwards: DNAT on PREROUTING and OUTPUT, FORWARD accept, hairpin
	dns redirect:  queries to the bridge address go to the host resolver

# Plugin

NewPlugin exposes the engine as the "networking" hook plugin so containers
opt in through their plugin configuration.
*/
package network
