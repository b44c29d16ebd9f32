package store_test

import (
	"testing"
	"time"

	"wildwatch.app/internal/store"
	"wildwatch.app/internal/store/storetest"
)

func TestMemoryConformance(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	m := store.NewMemory().WithClock(func() time.Time { return now })
	storetest.Run(t, m, func(d time.Duration) { now = now.Add(d) })
}
