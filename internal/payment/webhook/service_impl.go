package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	obsmetrics "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/observability/metrics"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/service"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Payment *service.Service
}

// Service turns raw provider callbacks into processed payment events:
// verify the signature, parse to the canonical event, hand off.
type Service struct {
	log     *zap.Logger
	payment *service.Service
}

func NewService(p Params) *Service {
	return &Service{
		log:     p.Log.Named("payment.webhook"),
		payment: p.Payment,
	}
}

func AsService(s *Service) paymentdomain.WebhookService { return s }

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if len(payload) == 0 || !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.payment.AdapterFor(provider, 0)
	if err != nil {
		return paymentdomain.ErrProviderNotFound
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("webhook event ignored", zap.String("provider", provider))
			return nil
		}
		return err
	}

	obsmetrics.Payments().RecordEvent(provider, event.Type)
	return s.payment.ProcessEvent(ctx, event, payload)
}
