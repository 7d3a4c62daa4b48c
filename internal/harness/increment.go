package harness

import (
	"context"
	"fmt"

	"github.com/roach88/isoharness/internal/store"
)

// incrementBody returns the transaction body for one increment of key.
func incrementBody(mode Mode, key string) func(ctx context.Context, tx store.Tx) error {
	switch mode {
	case ModeReadModifyWrite:
		return func(ctx context.Context, tx store.Tx) error {
			v, err := tx.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("read counter: %w", err)
			}
			return tx.Set(ctx, key, v+1)
		}
	default:
		return func(ctx context.Context, tx store.Tx) error {
			return tx.Increment(ctx, key, 1)
		}
	}
}
