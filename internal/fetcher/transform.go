package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/iTrooz/podcast-proxy/internal/feed"
)

// TransformFunc converts an upstream response into the JSON text to cache
type TransformFunc func(ctx context.Context, resp *http.Response, body []byte) (string, error)

// Transform selects how an upstream body becomes cached JSON text.
// The zero value is NoTransform.
type Transform struct {
	fn TransformFunc
}

// NoTransform caches the upstream body as-is, it must already be JSON text
var NoTransform = Transform{}

// CustomTransform caches the output of fn
func CustomTransform(fn TransformFunc) Transform {
	return Transform{fn: fn}
}

func (t Transform) apply(ctx context.Context, resp *http.Response, body []byte) (string, error) {
	if t.fn == nil {
		return string(body), nil
	}
	return t.fn(ctx, resp, body)
}

// FeedTransform decodes the body as feed XML and serializes the document to JSON text
func FeedTransform(dec *feed.Decoder) Transform {
	return CustomTransform(func(_ context.Context, _ *http.Response, body []byte) (string, error) {
		doc, err := dec.Decode(body)
		if err != nil {
			return "", err
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		// feed text already went through the sanitizer
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err != nil {
			return "", &SerializationError{Err: err}
		}
		return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
	})
}
