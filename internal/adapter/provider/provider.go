// Package provider holds the payment-provider adapters. Each adapter
// translates a transaction into the provider's initiation call and the
// provider's webhook payload into a canonical result; none of them touch the
// transaction store.
package provider

import (
	"net/http"

	"pesabridge/internal/core/ports"
)

// Doer is the minimal HTTP client surface adapters need, for testability.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry builds the provider lookup map used by the payment service.
func Registry(adapters ...ports.ProviderAdapter) map[string]ports.ProviderAdapter {
	m := make(map[string]ports.ProviderAdapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return m
}
