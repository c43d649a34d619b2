package cmd

import (
	"fmt"
	"log/slog"

	"github.com/mufaro/bankflow/pkg/ledger"
)

// NewLedgerAdapter builds the HTTP ledger adapter for the core-banking
// system.
func NewLedgerAdapter(baseURL string, timeoutSeconds float64, logger *slog.Logger) (ledger.Adapter, error) {
	adapter, err := ledger.NewHTTPAdapter(map[string]any{
		"base_url":        baseURL,
		"timeout_seconds": timeoutSeconds,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger adapter: %w", err)
	}

	return adapter, nil
}

// NewServiceAdapter builds the HTTP adapter for downstream service
// endpoints invoked by API_CALL, VALIDATION and OTP steps.
func NewServiceAdapter(baseURL string, logger *slog.Logger) (ledger.ServiceAdapter, error) {
	adapter, err := ledger.NewHTTPServiceAdapter(map[string]any{
		"base_url": baseURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize service adapter: %w", err)
	}

	return adapter, nil
}
