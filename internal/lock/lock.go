// Package lock provides key-scoped mutual exclusion for ledger and
// optimization operations. Keys are plain strings built with HoldingKey and
// OptimizationKey so every caller agrees on the scope.
package lock

import (
	"context"
	"sort"

	"investcore/internal/models"
)

type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func
	// releases the key and is safe to call more than once.
	Lock(ctx context.Context, key string) (func(), error)
}

func HoldingKey(portfolioID, symbol string) string {
	return "holding:" + portfolioID + ":" + models.NormalizeSymbol(symbol)
}

func OptimizationKey(userID, portfolioID string) string {
	return "optimization:" + userID + ":" + portfolioID
}

// LockAll acquires every key in sorted order so two callers locking
// overlapping sets cannot deadlock. Duplicate keys are locked once.
func LockAll(ctx context.Context, l Locker, keys []string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	unlocks := make([]func(), 0, len(sorted))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	prev := ""
	for i, key := range sorted {
		if i > 0 && key == prev {
			continue
		}
		prev = key
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}
