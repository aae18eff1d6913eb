package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/vaayugo-api/internal/common"
)

// NewRedisStore returns a ulule limiter store shared by every API replica.
func NewRedisStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "vaayugo:limiter"})
}

// Global builds the coarse per-IP limit applied to the whole API. rate uses ulule's
// "<limit>-<period>" format, e.g. "300-M".
func Global(store limiter.Store, rate string) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	mw := stdlib.NewMiddleware(limiter.New(store, parsed),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			common.JSONMessage(w, http.StatusTooManyRequests, "RATE_LIMITED", limitedMessage)
		}),
		stdlib.WithKeyGetter(common.ClientIP),
	)
	return mw.Handler, nil
}
