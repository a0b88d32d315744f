package invoice

import (
	"go.uber.org/fx"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/repository"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/service"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.AsService),
	fx.Provide(service.AsSettler),
)
