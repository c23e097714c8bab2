package he

import "fmt"

// Ledger counts the homomorphic operations performed by one Unit.
type Ledger struct {
	Additions       int `json:"additions"`
	Multiplications int `json:"multiplications"`
	Bootstraps      int `json:"bootstraps"`
	MaxDepth        int `json:"max_depth"`
}

func (l Ledger) String() string {
	return fmt.Sprintf("Add: %d, Multiply: %d, Bootstrap: %d (max depth %d)",
		l.Additions, l.Multiplications, l.Bootstraps, l.MaxDepth)
}
