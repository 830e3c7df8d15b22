package redisclient

import (
	"github.com/redis/go-redis/v9"

	"github.com/aoi0913/fleetwatch/internal/config"
)

func New(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
