package main

import "github.com/cuemby/burrow/pkg/network"

func hostLinks() (network.Links, error) {
	return network.NewNetlinkLinks(), nil
}
