package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ServiceWalletKind names a platform-owned wallet.
type ServiceWalletKind string

const (
	ServiceWalletTreasury   ServiceWalletKind = "treasury"
	ServiceWalletFees       ServiceWalletKind = "fees"
	ServiceWalletPresale    ServiceWalletKind = "presale"
	ServiceWalletSettlement ServiceWalletKind = "settlement"
)

// ServiceDestinationPrefix marks a destination that names a service
// wallet kind instead of an address, e.g. "service:treasury".
const ServiceDestinationPrefix = "service:"

func AllServiceWalletKinds() []ServiceWalletKind {
	return []ServiceWalletKind{ServiceWalletTreasury, ServiceWalletFees, ServiceWalletPresale, ServiceWalletSettlement}
}

func ParseServiceWalletKind(s string) (ServiceWalletKind, error) {
	k := ServiceWalletKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllServiceWalletKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown service wallet kind %q", s)
}

// ServiceWalletRegistry maps each configured service wallet kind to its
// settlement address. It is immutable once built.
type ServiceWalletRegistry struct {
	addresses map[ServiceWalletKind]string
}

// NewServiceWalletRegistry validates entries: every address must be
// non-empty and no address may serve two kinds.
func NewServiceWalletRegistry(entries map[ServiceWalletKind]string) (*ServiceWalletRegistry, error) {
	seen := make(map[string]ServiceWalletKind, len(entries))
	addresses := make(map[ServiceWalletKind]string, len(entries))
	for kind, addr := range entries {
		if _, err := ParseServiceWalletKind(string(kind)); err != nil {
			return nil, err
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return nil, fmt.Errorf("service wallet %s has no address", kind)
		}
		if other, dup := seen[addr]; dup {
			return nil, fmt.Errorf("service wallets %s and %s share address %s", other, kind, addr)
		}
		seen[addr] = kind
		addresses[kind] = addr
	}
	return &ServiceWalletRegistry{addresses: addresses}, nil
}

func (r *ServiceWalletRegistry) Address(kind ServiceWalletKind) (string, bool) {
	addr, ok := r.addresses[kind]
	return addr, ok
}

// Kinds returns the configured kinds in a stable order.
func (r *ServiceWalletRegistry) Kinds() []ServiceWalletKind {
	kinds := make([]ServiceWalletKind, 0, len(r.addresses))
	for k := range r.addresses {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ResolveDestination turns "service:<kind>" into the registered address
// and returns any other destination trimmed.
func (r *ServiceWalletRegistry) ResolveDestination(dest string) (string, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return "", fmt.Errorf("%w: destination is required", ErrInvalidDestination)
	}
	if !strings.HasPrefix(dest, ServiceDestinationPrefix) {
		return dest, nil
	}
	kind, err := ParseServiceWalletKind(strings.TrimPrefix(dest, ServiceDestinationPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	addr, ok := r.Address(kind)
	if !ok {
		return "", fmt.Errorf("%w: service wallet %s is not configured", ErrInvalidDestination, kind)
	}
	return addr, nil
}
