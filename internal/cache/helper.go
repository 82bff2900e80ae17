package cache

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// StartCacheSpan opens a Sentry span around one cache operation so hit and
// miss latency shows up under the request trace. Returns nil when the
// context carries no Sentry hub; FinishSpan tolerates that.
func StartCacheSpan(ctx context.Context, cache, operation string, params map[string]interface{}) *sentry.Span {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		return nil
	}

	span := sentry.StartSpan(ctx, "cache."+cache+"."+operation)
	if span != nil {
		span.Description = "cache." + cache + "." + operation
		span.Op = "db.cache"
		span.SetData("cache", cache)
		span.SetData("operation", operation)
		for k, v := range params {
			span.SetData(k, v)
		}
	}

	return span
}

// FinishSpan finishes a span when one was started.
func FinishSpan(span *sentry.Span) {
	if span != nil {
		span.Finish()
	}
}
