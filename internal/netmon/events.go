package netmon

type Scope int

const (
	ScopeLink Scope = iota + 1
	ScopeGlobal
)

func (s Scope) String() string {
	switch s {
	case ScopeLink:
		return "link"
	case ScopeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

type ChangeType string

const (
	TypeAdditionV4 ChangeType = "ADDITION_V4"
	TypeAdditionV6 ChangeType = "ADDITION_V6"
	TypeDeletionV4 ChangeType = "DELETION_V4"
	TypeDeletionV6 ChangeType = "DELETION_V6"
)

// Address is an address literal exactly as the monitor printed it, without
// the prefix length, together with its scope.
type Address struct {
	Addr  string
	Scope Scope
}

// Target returns the address carried by a change.
func (a Address) Target() Address { return a }

// AddressChange is one of AdditionV4, AdditionV6, DeletionV4 or DeletionV6.
// The set is closed: only this package can add variants.
type AddressChange interface {
	Target() Address
	Type() ChangeType
	isAddressChange()
}

type AdditionV4 struct{ Address }

type AdditionV6 struct{ Address }

type DeletionV4 struct{ Address }

type DeletionV6 struct{ Address }

func (AdditionV4) Type() ChangeType { return TypeAdditionV4 }
func (AdditionV6) Type() ChangeType { return TypeAdditionV6 }
func (DeletionV4) Type() ChangeType { return TypeDeletionV4 }
func (DeletionV6) Type() ChangeType { return TypeDeletionV6 }

func (AdditionV4) isAddressChange() {}
func (AdditionV6) isAddressChange() {}
func (DeletionV4) isAddressChange() {}
func (DeletionV6) isAddressChange() {}
