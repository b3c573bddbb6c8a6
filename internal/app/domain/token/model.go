// Package token defines the value token domain: addresses, base-unit
// amounts, and the fixed supply cap of the ledger.
package token

import "math/big"

// Address identifies an account on the ledger. The empty string is the null
// address and can never hold or receive value.
type Address string

// ZeroAddress is the null address.
const ZeroAddress Address = ""

// IsZero reports whether the address is the null address.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Decimals is the number of base-unit decimals carried by the token.
const Decimals = 18

// DefaultCap returns the fixed supply cap of the reference deployment:
// 100,000,000 whole tokens in base units.
func DefaultCap() *big.Int {
	return Units(100_000_000)
}

// Units converts a whole-token count into base units (n * 10^18).
func Units(n int64) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
	return exp.Mul(exp, big.NewInt(n))
}

// Clone returns a defensive copy of amount, treating nil as zero.
func Clone(amount *big.Int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(amount)
}
