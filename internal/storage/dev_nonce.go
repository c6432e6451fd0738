package storage

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

const devNonceKeyTempl = "lora:dev:nonce:%s"

// AddDevNonce adds the DevNonce of a sent join-request to the history of the
// given DevEUI.
func AddDevNonce(ctx context.Context, devEUI lorawan.EUI64, devNonce uint16) error {
	err := RedisClient().ZAdd(ctx, GetRedisKey(devNonceKeyTempl, devEUI), &redis.Z{
		Score:  float64(devNonce),
		Member: devNonceMember(devNonce),
	}).Err()
	if err != nil {
		return errors.Wrap(err, "zadd error")
	}
	return nil
}

// GetLastDevNonce returns the highest DevNonce used by the given DevEUI.
// It returns ErrDoesNotExist when no join-request was recorded.
func GetLastDevNonce(ctx context.Context, devEUI lorawan.EUI64) (uint16, error) {
	vals, err := RedisClient().ZRevRangeWithScores(ctx, GetRedisKey(devNonceKeyTempl, devEUI), 0, 0).Result()
	if err != nil {
		return 0, errors.Wrap(err, "zrevrange error")
	}
	if len(vals) == 0 {
		return 0, ErrDoesNotExist
	}
	return uint16(vals[0].Score), nil
}

// IsDevNonceUsed returns true when the given DevNonce is in the history of
// the given DevEUI.
func IsDevNonceUsed(ctx context.Context, devEUI lorawan.EUI64, devNonce uint16) (bool, error) {
	_, err := RedisClient().ZScore(ctx, GetRedisKey(devNonceKeyTempl, devEUI), devNonceMember(devNonce)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, errors.Wrap(err, "zscore error")
	}
	return true, nil
}

func devNonceMember(devNonce uint16) string {
	return strconv.FormatUint(uint64(devNonce), 10)
}
