// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package klaviyo

import (
	"sync"
	"time"
)

// RateLimiter implements a sliding window rate limiter per endpoint family.
//
// Description:
//
//	Limits the number of requests per minute to each upstream endpoint
//	family ("lists", "profiles", "campaigns", ...) using a sliding window
//	of timestamps. When the limit is exceeded, returns the duration until
//	the next request can be made. The client fails such calls fast rather
//	than queuing, keeping a hung or throttled upstream from pinning request
//	handlers.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	windows map[string][]int64 // timestamps in Unix milliseconds
}

// NewRateLimiter creates a rate limiter with per-family limits.
//
// Inputs:
//   - limitsPerMin: Per-family rate limits (requests per minute).
//     Families not in the map, or mapped to 0, are not rate-limited.
//
// Outputs:
//   - *RateLimiter: Configured rate limiter.
func NewRateLimiter(limitsPerMin map[string]int) *RateLimiter {
	limits := make(map[string]int, len(limitsPerMin))
	for k, v := range limitsPerMin {
		limits[k] = v
	}
	return &RateLimiter{
		limits:  limits,
		windows: make(map[string][]int64),
	}
}

// Allow checks whether a request to the given family is within the rate limit.
//
// Description:
//
//	If the request is allowed, records the timestamp.
//
// Inputs:
//   - family: The endpoint family name.
//
// Outputs:
//   - bool: True if the request is allowed.
//   - time.Duration: If rate-limited, how long to wait before retrying.
//     Zero if allowed.
func (r *RateLimiter) Allow(family string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit, exists := r.limits[family]
	if !exists || limit == 0 {
		return true, 0 // no limit configured
	}

	now := time.Now().UnixMilli()
	windowStart := now - 60_000 // 1 minute ago

	// Prune expired entries
	timestamps := r.windows[family]
	pruned := make([]int64, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts > windowStart {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= limit {
		oldestInWindow := pruned[0]
		retryAfter := time.Duration(oldestInWindow+60_000-now) * time.Millisecond
		r.windows[family] = pruned
		return false, retryAfter
	}

	pruned = append(pruned, now)
	r.windows[family] = pruned
	return true, 0
}
