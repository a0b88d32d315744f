package audit

import (
	"go.uber.org/fx"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/repository"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
