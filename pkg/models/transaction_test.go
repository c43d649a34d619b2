package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff_DoublesPerAttempt(t *testing.T) {
	initial := 30 * time.Second

	assert.Equal(t, 30*time.Second, NextBackoff(initial, 0))
	assert.Equal(t, 1*time.Minute, NextBackoff(initial, 1))
	assert.Equal(t, 2*time.Minute, NextBackoff(initial, 2))
	assert.Equal(t, 16*time.Minute, NextBackoff(initial, 5))
}

func TestNextBackoff_CapsAtMaxRetryDelay(t *testing.T) {
	initial := 30 * time.Second

	assert.Equal(t, MaxRetryDelay, NextBackoff(initial, 6))
	assert.Equal(t, MaxRetryDelay, NextBackoff(initial, 50))
}

func TestNextBackoff_ZeroInitialFallsBackToDefault(t *testing.T) {
	assert.Equal(t, DefaultInitialRetryDelay, NextBackoff(0, 0))
	assert.Equal(t, 2*DefaultInitialRetryDelay, NextBackoff(0, 1))
}

func TestTransactionRetryable(t *testing.T) {
	txn := &Transaction{Status: TransactionStatusFailed, RetryCount: 2, MaxRetries: 5}
	assert.True(t, txn.Retryable())

	txn.RetryCount = 5
	assert.False(t, txn.Retryable())

	txn = &Transaction{Status: TransactionStatusPending, RetryCount: 0, MaxRetries: 5}
	assert.False(t, txn.Retryable())
}

func TestTransactionStatusIsTerminal(t *testing.T) {
	terminal := []TransactionStatus{
		TransactionStatusCompleted,
		TransactionStatusFailedPermanent,
		TransactionStatusReversed,
	}
	for _, status := range terminal {
		assert.True(t, status.IsTerminal(), string(status))
	}

	open := []TransactionStatus{
		TransactionStatusPending,
		TransactionStatusProcessing,
		TransactionStatusFailed,
	}
	for _, status := range open {
		assert.False(t, status.IsTerminal(), string(status))
	}
}
