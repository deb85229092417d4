package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/meterbill/meterbill/internal/billingcycle"
	"github.com/meterbill/meterbill/internal/billingprovider"
	"github.com/meterbill/meterbill/internal/clock"
	"github.com/meterbill/meterbill/internal/config"
	"github.com/meterbill/meterbill/internal/expiryqueue"
	"github.com/meterbill/meterbill/internal/lock"
	"github.com/meterbill/meterbill/internal/observability"
	"github.com/meterbill/meterbill/internal/ordercount"
	"github.com/meterbill/meterbill/internal/pricetier"
	"github.com/meterbill/meterbill/internal/rollover"
	"github.com/meterbill/meterbill/internal/scheduler"
	"github.com/meterbill/meterbill/internal/store"
	"github.com/meterbill/meterbill/internal/tierupgrade"
	"github.com/meterbill/meterbill/pkg/db"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(NewRedisClient),
		db.Module,
		clock.Module,

		// Coordination state
		lock.Module,
		expiryqueue.Module,
		ordercount.Module,
		pricetier.Module,

		// Ledger and collaborators
		store.Module,
		billingcycle.Module,
		billingprovider.Module,

		// Engines and the worker loop
		rollover.Module,
		tierupgrade.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}
