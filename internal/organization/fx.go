package organization

import (
	"go.uber.org/fx"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/organization/repository"
)

var Module = fx.Module("organization",
	fx.Provide(repository.Provide),
)
