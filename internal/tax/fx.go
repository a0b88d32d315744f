package tax

import (
	"go.uber.org/fx"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/tax/service"
)

var Module = fx.Module("tax.service",
	fx.Provide(service.NewService),
)
