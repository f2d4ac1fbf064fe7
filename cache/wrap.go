// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Wrap returns fn guarded by a read-through cache. The key builder and TTL
// are explicit parameters so the caching policy is visible at the call site.
// Results are JSON-encoded in the cache; cache errors degrade to calling fn
// directly rather than failing the request. A nil cache returns fn unchanged.
func Wrap[Req, Resp any](c Cache, ttl time.Duration, keyFn func(Req) string, fn func(context.Context, Req) (Resp, error)) func(context.Context, Req) (Resp, error) {
	if c == nil {
		return fn
	}

	return func(ctx context.Context, req Req) (Resp, error) {
		key := keyFn(req)

		if raw, ok, err := c.Get(ctx, key); err == nil && ok {
			var cached Resp
			if unmarshalErr := json.Unmarshal(raw, &cached); unmarshalErr == nil {
				return cached, nil
			}
			// Corrupt entry: drop it and fall through to fn.
			_ = c.Delete(ctx, key)
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return resp, err
		}

		if raw, marshalErr := json.Marshal(resp); marshalErr == nil {
			_ = c.Set(ctx, key, raw, ttl)
		}

		return resp, nil
	}
}
