package ratelimit

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/comms/internal/config"
)

const keyMessagePostUser = "comms:ratelimit:post:user:%s"

type bucket interface {
	Take(ctx context.Context, key string, rate float64, burst int) (Decision, error)
}

// MessagePostLimiter caps how fast one user may post across all channels.
// Rate and burst are read from the live policy on every call.
type MessagePostLimiter struct {
	bucket bucket
	policy *config.PolicyHolder
}

// NewMessagePostLimiter returns nil when redis is not configured; a nil
// limiter allows everything.
func NewMessagePostLimiter(client *redis.Client, policy *config.PolicyHolder) *MessagePostLimiter {
	if client == nil {
		return nil
	}
	return &MessagePostLimiter{bucket: NewTokenBucket(client), policy: policy}
}

func (l *MessagePostLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *MessagePostLimiter) AllowPost(ctx context.Context, userID snowflake.ID) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	p := l.policy.Get()
	if p.MessageRate <= 0 || p.MessageBurst <= 0 {
		return true, nil
	}
	res, err := l.bucket.Take(ctx, fmt.Sprintf(keyMessagePostUser, userID.String()), p.MessageRate, p.MessageBurst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
