package pool

import (
	"encoding/json"
	"time"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/chainsponsor/gasstation/rpc"
)

// revalidateCacheTTL bounds how long a batched object lookup performed by
// Revalidate may be reused for a subsequent Revalidate call. It exists to
// collapse a burst of overlapping revalidation calls -- e.g. several
// PriceCache waiters all noticing the same epoch transition -- into a
// single round trip per object, the way fastcache is used elsewhere in the
// ecosystem as a short-lived response cache in front of a network call.
const revalidateCacheTTL = 2 * time.Second

type cachedObjectState struct {
	State      rpc.ObjectState
	FetchedAt  int64 // unix millis
}

// objectStateCache is a small fastcache-backed cache of recent
// BatchGetObjects results, keyed by objectID. fastcache has no built-in
// per-key TTL, so freshness is checked against FetchedAt on read.
type objectStateCache struct {
	c   *fastcache.Cache
	now func() time.Time
}

func newObjectStateCache(now func() time.Time) *objectStateCache {
	return &objectStateCache{
		c:   fastcache.New(1 << 20), // 1 MiB, ample for a pool of a few hundred coins
		now: now,
	}
}

func (c *objectStateCache) get(objectID string) (rpc.ObjectState, bool) {
	raw, found := c.c.HasGet(nil, []byte(objectID))
	if !found {
		return rpc.ObjectState{}, false
	}
	var cached cachedObjectState
	if err := json.Unmarshal(raw, &cached); err != nil {
		return rpc.ObjectState{}, false
	}
	if c.now().UnixMilli()-cached.FetchedAt > revalidateCacheTTL.Milliseconds() {
		return rpc.ObjectState{}, false
	}
	return cached.State, true
}

func (c *objectStateCache) put(state rpc.ObjectState) {
	cached := cachedObjectState{State: state, FetchedAt: c.now().UnixMilli()}
	raw, err := json.Marshal(cached)
	if err != nil {
		return
	}
	c.c.Set([]byte(state.ObjectID), raw)
}
