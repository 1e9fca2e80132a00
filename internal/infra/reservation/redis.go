package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"qrtrust/internal/domain"
)

const keyPrefix = "qrtrust:reserve:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis reserves product identifiers across instances with SET NX PX. The
// lease must outlive the ledger timeout so a slow anchor cannot lose its claim.
type Redis struct {
	client redis.UniversalClient
	lease  time.Duration
	log    logrus.FieldLogger
}

func NewRedis(client redis.UniversalClient, lease time.Duration, log logrus.FieldLogger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if lease <= 0 {
		return nil, errors.New("reservation lease must be positive")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{client: client, lease: lease, log: log}, nil
}

func (r *Redis) Reserve(ctx context.Context, productID string) (func(), error) {
	key := keyPrefix + productID
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.lease).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve %q: %w", productID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: issuance for %q already in progress", domain.ErrDuplicateProduct, productID)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err(); err != nil {
				r.log.WithError(err).WithField("product_id", productID).Warn("release reservation; lease will expire")
			}
		})
	}, nil
}
