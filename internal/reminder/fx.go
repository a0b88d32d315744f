package reminder

import (
	"go.uber.org/fx"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/repository"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/service"
)

var Module = fx.Module("reminder.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
