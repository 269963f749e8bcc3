//go:build integration

package guard

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/token-provisioner/internal/testutil"
	"github.com/rs/zerolog"
)

func TestRedis_Integration_LeaseOutlivesTTLWhileHeld(t *testing.T) {
	client := testutil.StartRedis(t)
	ctx := context.Background()

	holder := NewRedis(client, "", 300*time.Millisecond, zerolog.Nop())
	other := NewRedis(client, "", time.Minute, zerolog.Nop())

	lease, ok := holder.TryAcquire(ctx)
	if !ok {
		t.Fatal("holder.TryAcquire() = false on fresh Redis")
	}

	time.Sleep(time.Second)

	if _, ok := other.TryAcquire(ctx); ok {
		t.Fatal("other.TryAcquire() = true while the holder is still running")
	}
	lease.Release(ctx)
	if other.Running(ctx) {
		t.Error("Running() = true after release")
	}
}

func TestRedis_Integration_CrashedHolderExpires(t *testing.T) {
	client := testutil.StartRedis(t)
	ctx := context.Background()

	// A holder that died without releasing leaves a lease nobody renews.
	if err := client.Set(ctx, DefaultKey, "crashed", 200*time.Millisecond).Err(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	g := NewRedis(client, "", time.Minute, zerolog.Nop())
	if _, ok := g.TryAcquire(ctx); ok {
		t.Fatal("TryAcquire() = true while the crashed lease is live")
	}

	time.Sleep(400 * time.Millisecond)

	lease, ok := g.TryAcquire(ctx)
	if !ok {
		t.Fatal("TryAcquire() = false after the crashed lease expired")
	}
	lease.Release(ctx)
}
