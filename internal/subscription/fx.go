package subscription

import (
	"go.uber.org/fx"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/repository"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/service"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.AsService),
	fx.Provide(service.AsSettler),
)
