package devices

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// DefaultEUIAttempts bounds how many random EUIs are tried before giving up.
const DefaultEUIAttempts = 16

// ExistsFunc reports whether an EUI is already registered.
type ExistsFunc func(ctx context.Context, eui string) (bool, error)

// EUIGenerator draws random EUIs until one is free.
type EUIGenerator struct {
	Random      io.Reader
	MaxAttempts int
}

// Generate returns an unused EUI or ErrEUIExhausted after MaxAttempts collisions.
func (g EUIGenerator) Generate(ctx context.Context, exists ExistsFunc) (string, error) {
	random := g.Random
	if random == nil {
		random = rand.Reader
	}
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultEUIAttempts
	}

	buf := make([]byte, EUILength/2)
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, err := io.ReadFull(random, buf); err != nil {
			return "", fmt.Errorf("device eui: read random: %w", err)
		}
		eui := strings.ToUpper(hex.EncodeToString(buf))
		taken, err := exists(ctx, eui)
		if err != nil {
			return "", err
		}
		if !taken {
			return eui, nil
		}
	}
	return "", ErrEUIExhausted
}
