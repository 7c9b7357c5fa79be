//go:build !linux

package main

import (
	"errors"

	"github.com/cuemby/burrow/pkg/network"
)

func hostLinks() (network.Links, error) {
	return nil, errors.New("container networking requires linux; set network.enabled to false")
}
