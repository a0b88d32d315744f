package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/clock"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/migration"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/observability"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/organization"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	paymentservice "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/service"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/providers"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/scheduler"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/server"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/tax"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db"
)

func main() {
	app := fx.New(
		// core infrastructure
		fx.Provide(config.Load),
		fx.Provide(config.NewBillingConfigHolder),
		fx.Provide(newDBConfig),
		fx.Provide(newSnowflakeNode),
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,

		// billing domains
		audit.Module,
		tax.Module,
		organization.Module,
		customer.Module,
		providers.Module,
		payment.Module,
		invoice.Module,
		reminder.Module,
		subscription.Module,

		// outer surfaces
		scheduler.Module,
		server.Module,

		// payment outcomes flow back into invoices and subscriptions
		fx.Invoke(func(payments *paymentservice.Service, invoices paymentdomain.InvoiceSettler, subscriptions paymentdomain.SubscriptionSettler) {
			payments.AttachSettlers(invoices, subscriptions)
		}),
	)
	app.Run()
}

func newDBConfig(cfg config.Config) db.Config {
	return db.Config{
		Type:            cfg.DBType,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
}

func newSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
