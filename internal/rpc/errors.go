package rpc

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum"
)

// IsNotFound reports whether an error is the RPC "not found" response,
// which callers treat as an absent value rather than a failure.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ethereum.NotFound) {
		return true
	}
	// Some providers answer with a plain error string instead of a null result.
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
