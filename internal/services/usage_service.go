package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
	"github.com/roundtablehq/roundtable-backend/internal/quota"
)

type UsageService interface {
	// CurrentUsage reports the tenant's consumption for the period containing
	// now, zeros when the tenant has not deliberated this period.
	CurrentUsage(ctx context.Context, tenantID uuid.UUID) (*quota.UsageSnapshot, error)
}

type usageService struct {
	guard quota.Guard
	log   *logger.Logger
}

func NewUsageService(guard quota.Guard, baseLog *logger.Logger) UsageService {
	return &usageService{
		guard: guard,
		log:   baseLog.With("service", "UsageService"),
	}
}

func (s *usageService) CurrentUsage(ctx context.Context, tenantID uuid.UUID) (*quota.UsageSnapshot, error) {
	return s.guard.Snapshot(ctx, tenantID, time.Now().UTC())
}
