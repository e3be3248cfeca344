// Package redisledger keeps product counters in Redis hashes. Every
// operation is one Lua script, so it is atomic on the server.
package redisledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	domain "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"
)

const defaultPrefix = "minishop:product:"

// script result codes
const (
	codeOK           = 0
	codeNotFound     = 1
	codeInsufficient = 2
	codeBelowReserve = 3
)

// Each script returns {code, value}.
var (
	reserveScript = redis.NewScript(`
local stock = redis.call('HGET', KEYS[1], 'stock')
if not stock then return {1, 0} end
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local avail = tonumber(stock) - reserved
local qty = tonumber(ARGV[1])
if avail < qty then return {2, avail} end
redis.call('HINCRBY', KEYS[1], 'reserved', qty)
return {0, qty}
`)

	releaseScript = redis.NewScript(`
local stock = redis.call('HGET', KEYS[1], 'stock')
if not stock then return {1, 0} end
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local n = math.min(tonumber(ARGV[1]), reserved)
if n > 0 then redis.call('HINCRBY', KEYS[1], 'reserved', -n) end
return {0, n}
`)

	confirmScript = redis.NewScript(`
local stock = redis.call('HGET', KEYS[1], 'stock')
if not stock then return {1, 0} end
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local n = math.min(tonumber(ARGV[1]), reserved)
if n > 0 then
  redis.call('HINCRBY', KEYS[1], 'stock', -n)
  redis.call('HINCRBY', KEYS[1], 'reserved', -n)
end
return {0, n}
`)

	unconfirmScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {1, 0} end
local n = tonumber(ARGV[1])
redis.call('HINCRBY', KEYS[1], 'stock', n)
redis.call('HINCRBY', KEYS[1], 'reserved', n)
return {0, n}
`)

	setStockScript = redis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local stock = tonumber(ARGV[1])
if stock < reserved then return {3, reserved} end
redis.call('HSET', KEYS[1], 'stock', stock, 'reserved', reserved)
return {0, reserved}
`)
)

type Ledger struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Ledger {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Ledger{client: client, prefix: prefix}
}

func (l *Ledger) key(productID string) string { return l.prefix + productID }

func (l *Ledger) run(ctx context.Context, s *redis.Script, productID string, arg int) (code, value int64, err error) {
	res, err := s.Run(ctx, l.client, []string{l.key(productID)}, arg).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis ledger: %s: %w", productID, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis ledger: %s: unexpected script reply %v", productID, res)
	}
	return res[0], res[1], nil
}

func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := l.reserve(ctx, productID, qty); err != nil {
		return err
	}
	saga.Record(ctx, "unreserve "+productID, func(ctx context.Context) error {
		_, _, err := l.run(ctx, releaseScript, productID, qty)
		return err
	})
	return nil
}

func (l *Ledger) reserve(ctx context.Context, productID string, qty int) error {
	code, v, err := l.run(ctx, reserveScript, productID, qty)
	if err != nil {
		return err
	}
	switch code {
	case codeOK:
		return nil
	case codeNotFound:
		return domain.ErrNotFound
	case codeInsufficient:
		return &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: int(v)}
	default:
		return fmt.Errorf("redis ledger: %s: unexpected reserve code %d", productID, code)
	}
}

func (l *Ledger) Release(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	n, err := l.clamped(ctx, releaseScript, productID, qty)
	if err != nil || n == 0 {
		return n, err
	}
	saga.Record(ctx, "restore "+productID, func(ctx context.Context) error {
		return l.reserve(ctx, productID, n)
	})
	return n, nil
}

func (l *Ledger) Confirm(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	n, err := l.clamped(ctx, confirmScript, productID, qty)
	if err != nil || n == 0 {
		return n, err
	}
	saga.Record(ctx, "unconfirm "+productID, func(ctx context.Context) error {
		_, _, err := l.run(ctx, unconfirmScript, productID, n)
		return err
	})
	return n, nil
}

func (l *Ledger) clamped(ctx context.Context, s *redis.Script, productID string, qty int) (int, error) {
	code, n, err := l.run(ctx, s, productID, qty)
	if err != nil {
		return 0, err
	}
	if code == codeNotFound {
		return 0, domain.ErrNotFound
	}
	return int(n), nil
}

func (l *Ledger) Availability(ctx context.Context, productID string) (domain.Availability, error) {
	vals, err := l.client.HMGet(ctx, l.key(productID), "stock", "reserved").Result()
	if err != nil {
		return domain.Availability{}, fmt.Errorf("redis ledger: %s: %w", productID, err)
	}
	if vals[0] == nil {
		return domain.Availability{}, domain.ErrNotFound
	}
	p := domain.Product{ID: productID}
	if p.Stock, err = toInt(vals[0]); err != nil {
		return domain.Availability{}, err
	}
	if vals[1] != nil {
		if p.Reserved, err = toInt(vals[1]); err != nil {
			return domain.Availability{}, err
		}
	}
	return p.Snapshot(), nil
}

func (l *Ledger) SetStock(ctx context.Context, productID string, stock int) (domain.Availability, error) {
	if stock < 0 {
		return domain.Availability{}, domain.ErrInvalidQuantity
	}
	code, reserved, err := l.run(ctx, setStockScript, productID, stock)
	if err != nil {
		return domain.Availability{}, err
	}
	if code == codeBelowReserve {
		return domain.Availability{}, fmt.Errorf("%w: reserved %d, requested stock %d", domain.ErrStockBelowReserved, reserved, stock)
	}
	p := domain.Product{ID: productID, Stock: stock, Reserved: int(reserved)}
	return p.Snapshot(), nil
}

func toInt(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("redis ledger: unexpected value %v", v)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("redis ledger: parse %q: %w", s, err)
	}
	return n, nil
}
