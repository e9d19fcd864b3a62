package rpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "ethereum.NotFound", err: ethereum.NotFound, expected: true},
		{name: "wrapped ethereum.NotFound", err: fmt.Errorf("fetch receipt: %w", ethereum.NotFound), expected: true},
		{name: "provider string variant", err: errors.New("transaction Not Found"), expected: true},
		{name: "unrelated error", err: errors.New("connection refused"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFound(tt.err))
		})
	}
}
