// Package cartcache keeps display views of carts in Redis.
package cartcache

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/wire"
)

var _ cart.Cache = (*RedisCache)(nil)

// DefaultTTL is the base lifetime of a cached cart.
const DefaultTTL = 5 * time.Minute

// generationTTL keeps a user's generation counter well past any cart entry
// and any fill in flight.
const generationTTL = 24 * time.Hour

// fillScript writes the cart only while the generation still equals
// ARGV[1]. A missing generation counts as 0.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCache implements cart.Cache. Entries expire after the base TTL plus
// up to a quarter of it as jitter.
type RedisCache struct {
	client  redis.Cmdable
	baseTTL time.Duration
}

// New returns a RedisCache. A non-positive ttl selects DefaultTTL.
func New(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, baseTTL: ttl}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*cart.Cart, uint64, error) {
	vals, err := r.client.MGet(ctx, cartKey(userID), generationKey(userID)).Result()
	if err != nil {
		return nil, 0, errors.Wrap(err, "redis mget")
	}

	data, ok := vals[0].(string)
	if !ok {
		gen, err := parseGeneration(vals[1])
		if err != nil {
			return nil, 0, err
		}
		return nil, gen, cart.ErrCacheMiss
	}

	c, err := wire.DecodeCart(jx.DecodeStr(data))
	if err != nil {
		return nil, 0, err
	}
	return c, 0, nil
}

func (r *RedisCache) Set(ctx context.Context, userID string, gen uint64, c *cart.Cart) error {
	var e jx.Encoder
	wire.EncodeCart(&e, c)

	ttl := r.baseTTL + rand.N(r.baseTTL/4+1)
	err := fillScript.Run(ctx, r.client,
		[]string{cartKey(userID), generationKey(userID)},
		strconv.FormatUint(gen, 10), e.Bytes(), ttl.Milliseconds(),
	).Err()
	if err != nil {
		return errors.Wrap(err, "redis fill")
	}
	return nil
}

// Delete drops the entry and advances the generation, so fills that read
// the store before this call are discarded.
func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cartKey(userID))
		pipe.Incr(ctx, generationKey(userID))
		pipe.Expire(ctx, generationKey(userID), generationTTL)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis invalidate")
	}
	return nil
}

func parseGeneration(v any) (uint64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, nil
	}
	gen, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse cart generation")
	}
	return gen, nil
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("cartgen:%s", userID)
}
