package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// warmupLockTTL ограничивает жизнь блокировки, если инстанс упал посреди прогрева.
const warmupLockTTL = 30 * time.Second

// WarmupState заливает начальное состояние из конфига в пустой Redis-сет.
// После успешного прогрева lockKey остается без TTL: прогрев выполняется один раз на инсталляцию Redis.
// При ошибке блокировка снимается, и следующий старт попробует снова.
func WarmupState(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	ids []string,
	redisKey string,
	lockKey string,
) error {
	if len(ids) == 0 {
		return nil
	}

	// Распределенная блокировка (SetNX), чтобы только один инстанс обновлял Redis
	ok, err := rdb.SetNX(ctx, lockKey, "processing", warmupLockTTL).Result()
	if err != nil || !ok {
		return err
	}

	if err := seedSet(ctx, rdb, logger, ids, redisKey); err != nil {
		if delErr := rdb.Del(context.WithoutCancel(ctx), lockKey).Err(); delErr != nil {
			logger.Warn("could not release warm-up lock", zap.String("key", lockKey), zap.Error(delErr))
		}
		return err
	}

	return rdb.Set(ctx, lockKey, "done", 0).Err()
}

func seedSet(ctx context.Context, rdb *redis.Client, logger *zap.Logger, ids []string, redisKey string) error {
	count, err := rdb.SCard(ctx, redisKey).Result()
	if err != nil {
		logger.Warn("could not check Redis set size, proceeding with warm-up",
			zap.String("key", redisKey), zap.Error(err))
		count = 0
	}
	if count > 0 {
		return nil
	}

	logger.Info("Redis set is empty, seeding from config",
		zap.String("key", redisKey), zap.Strings("ids", ids))

	pipe := rdb.Pipeline()
	for _, id := range ids {
		pipe.SAdd(ctx, redisKey, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}
