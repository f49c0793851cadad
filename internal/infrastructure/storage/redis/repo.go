package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"assetwatch/internal/application/port"
	"assetwatch/internal/domain/model"
)

const PublisherName = "redis"

// Repo mirrors latest prices into a hash and publishes trigger events to a stream
// (durable, XADD) and a pub/sub channel (live).
type Repo struct {
	rdb           *redis.Client
	prefix        string
	ttl           time.Duration
	keyLatest     string // prefix + ":latest"
	triggerStream string
	triggerChan   string
}

type LatestPrice struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
	Time  string `json:"time"`
}

type triggerPayload struct {
	RuleID        string `json:"rule_id"`
	Asset         string `json:"asset"`
	Comparison    string `json:"comparison"`
	Threshold     string `json:"threshold"`
	ObservedPrice string `json:"observed_price"`
	TriggeredAt   string `json:"triggered_at"`
	Message       string `json:"message"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, triggerStream, triggerChan string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "assetwatch"
	}
	if strings.TrimSpace(triggerStream) == "" {
		triggerStream = prefix + ":triggers"
	}
	if strings.TrimSpace(triggerChan) == "" {
		triggerChan = prefix + ":triggers:pub"
	}
	return &Repo{
		rdb:           rdb,
		prefix:        prefix,
		ttl:           ttl,
		keyLatest:     prefix + ":latest",
		triggerStream: triggerStream,
		triggerChan:   triggerChan,
	}
}

func (r *Repo) Name() string { return PublisherName }

// UpsertLatestPrice field = asset -> json
func (r *Repo) UpsertLatestPrice(ctx context.Context, t model.Tick) error {
	b, _ := json.Marshal(LatestPrice{
		Asset: t.Asset,
		Price: t.Price.String(),
		Time:  t.ObservedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, t.Asset, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// LatestPrice returns the mirrored value for asset, redis.Nil when absent.
func (r *Repo) LatestPrice(ctx context.Context, asset string) (LatestPrice, error) {
	var lp LatestPrice
	s, err := r.rdb.HGet(ctx, r.keyLatest, asset).Result()
	if err != nil {
		return lp, err
	}
	err = json.Unmarshal([]byte(s), &lp)
	return lp, err
}

func (r *Repo) PublishTrigger(ctx context.Context, ev model.TriggerEvent) error {
	p := triggerPayload{
		RuleID:        ev.RuleID,
		Asset:         ev.Asset,
		Comparison:    string(ev.Comparison),
		Threshold:     ev.Threshold.String(),
		ObservedPrice: ev.ObservedPrice.String(),
		TriggeredAt:   ev.TriggeredAt.UTC().Format(time.RFC3339Nano),
		Message:       ev.Message(),
	}

	// 1) Stream: XADD <stream> * rule_id asset ... payload
	b, _ := json.Marshal(p)
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.triggerStream,
		Values: map[string]any{
			"rule_id": p.RuleID,
			"asset":   p.Asset,
			"price":   p.ObservedPrice,
			"payload": string(b),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	return r.rdb.Publish(ctx, r.triggerChan, string(b)).Err()
}

var _ port.EventPublisher = (*Repo)(nil)
