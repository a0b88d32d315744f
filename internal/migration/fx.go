package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	auditdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	customerdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer/domain"
	invoicedomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/domain"
	organizationdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/organization/domain"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	reminderdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/scheduler"
	subscriptiondomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// local and test databases take the gorm-derived schema
			return conn.AutoMigrate(
				&organizationdomain.Organization{},
				&organizationdomain.InvoiceSequence{},
				&customerdomain.Customer{},
				&customerdomain.PaymentMethod{},
				&paymentdomain.Payment{},
				&paymentdomain.PaymentRefund{},
				&paymentdomain.KonbiniPayment{},
				&paymentdomain.PayPayPayment{},
				&paymentdomain.EventRecord{},
				&invoicedomain.Invoice{},
				&invoicedomain.InvoiceItem{},
				&reminderdomain.PaymentReminder{},
				&subscriptiondomain.Subscription{},
				&subscriptiondomain.BillingAttempt{},
				&auditdomain.AuditLog{},
				&scheduler.DailyReport{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
