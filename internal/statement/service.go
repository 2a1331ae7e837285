package statement

import (
	"context"

	"github.com/smallbiznis/settlement/internal/clock"
	obslogger "github.com/smallbiznis/settlement/internal/observability/logger"
	payoutdomain "github.com/smallbiznis/settlement/internal/payout/domain"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Lifecycle payoutdomain.LifecycleService
	VendorSvc vendordomain.Service
}

// Service renders statements for stored payout batches.
type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	lifecycle payoutdomain.LifecycleService
	vendorSvc vendordomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		log:       p.Log.Named("statement.service"),
		clock:     p.Clock,
		lifecycle: p.Lifecycle,
		vendorSvc: p.VendorSvc,
	}
}

// Generate loads the batch with its items and renders it as a PDF.
func (s *Service) Generate(ctx context.Context, batchID string) (Document, error) {
	detail, err := s.lifecycle.Get(ctx, batchID)
	if err != nil {
		return Document{}, err
	}

	vendor, err := s.vendorSvc.GetVendor(ctx, detail.Batch.VendorID.String())
	if err != nil {
		return Document{}, err
	}

	doc, err := Render(Data{
		VendorName:  vendor.Name,
		Batch:       detail.Batch,
		Items:       detail.Items,
		GeneratedAt: s.clock.Now(),
	})
	if err != nil {
		obslogger.WithContext(ctx, s.log).Error("statement render failed",
			zap.String("batch_id", detail.Batch.ID.String()),
			zap.Error(err),
		)
		return Document{}, err
	}
	return doc, nil
}
