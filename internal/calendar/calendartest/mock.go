// Package calendartest provides a testify mock of calendar.Service.
package calendartest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/hiroaki404/trip-ai/internal/calendar"
)

// Service is a mock calendar.Service.
type Service struct {
	mock.Mock
}

// CreateEvent records the call and returns the configured values.
func (m *Service) CreateEvent(ctx context.Context, ev calendar.Event) (string, error) {
	args := m.Called(ctx, ev)
	return args.String(0), args.Error(1)
}
