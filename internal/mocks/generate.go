// Package mocks provides mock implementations for testing the identity ports.
//
// This package uses go.uber.org/mock (gomock) for type-safe mocks of the
// narrow single-method ports; the wider repository ports have hand-written
// in-memory doubles under mocks/auth.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
package mocks

// Generate mock for EventPublisher interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=event_publisher_mock.go github.com/ferrite-id/ferrite/internal/core EventPublisher
