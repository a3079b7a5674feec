package netmon

import "strings"

// IsRelevant reports whether a change should be published. Only newly added
// global IPv6 addresses qualify, minus the unique-local ranges the kernel
// still labels "global".
//
// The exclusion is a literal prefix test on the printed address ("fd", "fec"),
// not a CIDR match: fc00::/8 and the fe80::/10 boundary forms are not covered.
func IsRelevant(change AddressChange) bool {
	switch c := change.(type) {
	case AdditionV6:
		if c.Scope != ScopeGlobal {
			return false
		}
		return !strings.HasPrefix(c.Addr, "fd") && !strings.HasPrefix(c.Addr, "fec")
	case AdditionV4, DeletionV4, DeletionV6:
		return false
	default:
		return false
	}
}
