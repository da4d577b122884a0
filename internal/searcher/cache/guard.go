package cache

import (
	"context"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/resilience"
)

// Guard routes every call to r through b, so an unreachable Redis costs one
// failed call per cool-down instead of one per query. Key misses are not
// failures.
func Guard(r Remote, b *resilience.Breaker) Remote {
	return &guardedRemote{remote: r, breaker: b}
}

type guardedRemote struct {
	remote  Remote
	breaker *resilience.Breaker
}

func (g *guardedRemote) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		data []byte
		miss error
	)
	err := g.breaker.Execute(func() error {
		d, err := g.remote.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			miss = err
			return nil
		}
		data = d
		return err
	})
	if err != nil {
		return nil, err
	}
	if miss != nil {
		return nil, miss
	}
	return data, nil
}

func (g *guardedRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.breaker.Execute(func() error {
		return g.remote.Set(ctx, key, value, ttl)
	})
}

func (g *guardedRemote) Flush(ctx context.Context) (int64, error) {
	var n int64
	err := g.breaker.Execute(func() error {
		var err error
		n, err = g.remote.Flush(ctx)
		return err
	})
	return n, err
}
