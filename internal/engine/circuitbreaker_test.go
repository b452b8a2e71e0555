package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestCB(t *testing.T) (*CircuitBreaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cb := NewCircuitBreaker(client, testLogger())
	return cb, mr
}

// expireCooldown rewinds last_failed_at so the cooldown has elapsed.
func expireCooldown(t *testing.T, cb *CircuitBreaker, mr *miniredis.Miniredis, recipientID string) {
	t.Helper()
	pastTime := time.Now().Unix() - int64(cb.cooldownPeriod.Seconds()) - 1
	mr.HSet(cbKey(recipientID), "last_failed_at", fmt.Sprintf("%d", pastTime))
}

func TestCircuitBreaker_InitialStateAllows(t *testing.T) {
	cb, _ := setupTestCB(t)

	if !cb.AllowSend(context.Background(), "u1") {
		t.Error("new recipient should be allowed (circuit closed)")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < cb.failureThreshold; i++ {
		cb.RecordFailure(ctx, "u1")
	}

	if cb.AllowSend(ctx, "u1") {
		t.Error("circuit should be open after reaching the failure threshold")
	}
}

func TestCircuitBreaker_BelowThresholdStaysClosed(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < cb.failureThreshold-1; i++ {
		cb.RecordFailure(ctx, "u1")
	}

	if !cb.AllowSend(ctx, "u1") {
		t.Error("circuit should stay closed below the threshold")
	}
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < cb.failureThreshold-1; i++ {
		cb.RecordFailure(ctx, "u1")
	}
	cb.RecordSuccess(ctx, "u1")

	// Counter reset: the next failures start from zero again.
	for i := 0; i < cb.failureThreshold-1; i++ {
		cb.RecordFailure(ctx, "u1")
	}

	if !cb.AllowSend(ctx, "u1") {
		t.Error("success should have reset the failure count")
	}
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb, mr := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < cb.failureThreshold; i++ {
		cb.RecordFailure(ctx, "u1")
	}
	expireCooldown(t, cb, mr, "u1")

	// Cooldown elapsed: one test send is allowed.
	if !cb.AllowSend(ctx, "u1") {
		t.Fatal("expected half-open test send to be allowed after cooldown")
	}

	// A successful test send closes the circuit.
	cb.RecordSuccess(ctx, "u1")
	if !cb.AllowSend(ctx, "u1") {
		t.Error("circuit should be closed after a successful half-open send")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, mr := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < cb.failureThreshold; i++ {
		cb.RecordFailure(ctx, "u1")
	}
	expireCooldown(t, cb, mr, "u1")

	if !cb.AllowSend(ctx, "u1") {
		t.Fatal("expected half-open test send to be allowed")
	}
	cb.RecordFailure(ctx, "u1")

	if cb.AllowSend(ctx, "u1") {
		t.Error("circuit should re-open after a failed half-open send")
	}
}

func TestCircuitBreaker_PerRecipientIsolation(t *testing.T) {
	cb, _ := setupTestCB(t)
	ctx := context.Background()

	for i := 0; i < cb.failureThreshold; i++ {
		cb.RecordFailure(ctx, "u1")
	}

	if !cb.AllowSend(ctx, "u2") {
		t.Error("one recipient's open circuit must not block another")
	}
}
