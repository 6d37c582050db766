// Package network builds the HTTP clients used to talk to platform APIs.
package network

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Options configures NewClient.
type Options struct {
	// BindAddress is a local IP or interface name to send requests from. Empty uses the default route.
	BindAddress string
	// Timeout bounds a whole request, including reading the body. Zero means no limit.
	Timeout time.Duration
}

// NewTransport creates an http.Transport, bound to bindAddr when it is set.
func NewTransport(bindAddr string) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if strings.TrimSpace(bindAddr) != "" {
		localAddr, err := resolveBindAddr(strings.TrimSpace(bindAddr))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve bind address '%s': %w", bindAddr, err)
		}
		dialer.LocalAddr = localAddr
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}, nil
}

// NewClient returns an *http.Client for the given options.
func NewClient(opt Options) (*http.Client, error) {
	transport, err := NewTransport(opt.BindAddress)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport, Timeout: opt.Timeout}, nil
}

// resolveBindAddr takes a string that can be an IP address or an interface name
// and returns a resolvable *net.TCPAddr.
func resolveBindAddr(addrOrInterface string) (*net.TCPAddr, error) {
	if ip := net.ParseIP(addrOrInterface); ip != nil {
		return &net.TCPAddr{IP: ip}, nil
	}

	iface, err := net.InterfaceByName(addrOrInterface)
	if err != nil {
		return nil, fmt.Errorf("failed to find network interface '%s': %w", addrOrInterface, err)
	}
	addrs, err := iface.Addrs()
	if err != nil || len(addrs) == 0 {
		return nil, fmt.Errorf("interface '%s' has no usable addresses", addrOrInterface)
	}

	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			return &net.TCPAddr{IP: ip}, nil
		}
	}
	return nil, fmt.Errorf("no usable IPv4 address found for interface '%s'", addrOrInterface)
}
