package providers

import (
	"go.uber.org/fx"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/providers/email"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/providers/pdf"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
