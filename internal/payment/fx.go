package payment

import (
	"go.uber.org/fx"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/adapters"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/adapters/konbini"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/adapters/paypay"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/adapters/stripe"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/repository"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/service"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/webhook"
)

func newRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewFactory(),
		paypay.NewFactory(),
		konbini.NewFactory(),
	)
}

var Module = fx.Module("payment.service",
	fx.Provide(newRegistry),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.AsService),
	fx.Provide(webhook.NewService),
	fx.Provide(webhook.AsService),
)
