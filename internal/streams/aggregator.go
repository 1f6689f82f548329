package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ogero/stremio-addonhub/internal/common"
	"github.com/ogero/stremio-addonhub/pkg/stremio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Fetcher fetches the raw streams an addon serves for a content id.
type Fetcher interface {
	GetStreams(ctx context.Context, baseURL, contentType, id string) (*stremio.StreamsResponse, error)
}

// AddonLister returns the installed addons declaring a resource for a content type, in installation order.
type AddonLister interface {
	ListCapable(ctx context.Context, resource, contentType string) ([]stremio.Manifest, error)
}

// Aggregator resolves streams across every stream capable addon.
type Aggregator interface {
	// Resolve tries candidates in order, querying every capable addon concurrently for each one, and
	// returns the groups of the first candidate that produced any stream. Groups follow installation
	// order. Addon failures are logged and leave the addon out; the result is empty when nothing was found.
	Resolve(ctx context.Context, contentType string, candidates []string) []StreamResponse
}

type aggregator struct {
	addons  AddonLister
	fetcher Fetcher
}

// NewAggregator creates a new stream Aggregator.
func NewAggregator(addons AddonLister, fetcher Fetcher) Aggregator {
	return &aggregator{
		addons:  addons,
		fetcher: fetcher,
	}
}

// Resolve tries candidates in order and returns the stream groups of the first one producing streams.
func (a *aggregator) Resolve(ctx context.Context, contentType string, candidates []string) []StreamResponse {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "streams.Aggregator.Resolve")
	defer span.End()

	span.SetAttributes(
		attribute.String("streams.type", contentType),
		attribute.StringSlice("streams.candidates", candidates),
	)

	addons, err := a.addons.ListCapable(ctx, stremio.ResourceStream, contentType)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to streams.AddonLister.ListCapable", "err", err)
		span.RecordError(err)
		common.StreamResolutionsTotalIncr(ctx, false)
		return []StreamResponse{}
	}
	span.SetAttributes(attribute.Int("streams.addons", len(addons)))

	for i, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		responses := a.resolveCandidate(ctx, contentType, candidate, addons)
		if len(responses) > 0 {
			span.SetAttributes(
				attribute.String("streams.candidate", candidate),
				attribute.Int("streams.candidate_index", i),
				attribute.Int("streams.responses", len(responses)),
			)
			common.StreamResolutionsTotalIncr(ctx, true)
			return responses
		}
	}

	common.StreamResolutionsTotalIncr(ctx, false)
	return []StreamResponse{}
}

// resolveCandidate queries every addon accepting id concurrently. Groups keep the order of addons.
func (a *aggregator) resolveCandidate(ctx context.Context, contentType, id string, addons []stremio.Manifest) []StreamResponse {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "streams.Aggregator.resolveCandidate")
	defer span.End()
	span.SetAttributes(attribute.String("streams.candidate", id))

	targets := make([]stremio.Manifest, 0, len(addons))
	for _, m := range addons {
		res, ok := m.Resource(stremio.ResourceStream)
		if ok && res.AcceptsID(id) {
			targets = append(targets, m)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	type result struct {
		index    int
		response *StreamResponse
		err      error
	}

	results := make(chan result, len(targets))
	var wg sync.WaitGroup

	for i, m := range targets {
		wg.Add(1)
		go func(index int, m stremio.Manifest) {
			defer wg.Done()
			response, err := a.query(ctx, contentType, id, m)
			results <- result{index: index, response: response, err: err}
		}(i, m)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*StreamResponse, len(targets))
	for res := range results {
		m := targets[res.index]
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				common.Log.WarnContext(ctx, "Addon stream request timed out, dropping results", "addon", m.ID, "candidate", id, "err", res.err)
			} else {
				common.Log.WarnContext(ctx, "Addon stream request failed, dropping results", "addon", m.ID, "candidate", id, "err", res.err)
			}
			common.AddonRequestsTotalIncr(ctx, stremio.ResourceStream, "error")
			continue
		}
		if res.response == nil {
			common.AddonRequestsTotalIncr(ctx, stremio.ResourceStream, "empty")
			continue
		}
		common.AddonRequestsTotalIncr(ctx, stremio.ResourceStream, "ok")
		ordered[res.index] = res.response
	}

	responses := make([]StreamResponse, 0, len(ordered))
	for _, response := range ordered {
		if response != nil {
			responses = append(responses, *response)
		}
	}
	return responses
}

// query fetches and normalizes the streams of one addon. A nil response means the addon had nothing playable.
func (a *aggregator) query(ctx context.Context, contentType, id string, m stremio.Manifest) (response *StreamResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("addon %s stream query panicked: %v", m.ID, r)
		}
	}()

	raw, err := a.fetcher.GetStreams(ctx, m.URL, contentType, id)
	if err != nil {
		return nil, fmt.Errorf("failed to streams.Fetcher.GetStreams: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	streams := Normalize(m, raw.Streams)
	if len(streams) == 0 {
		return nil, nil
	}

	return &StreamResponse{
		Addon:     m.ID,
		AddonName: m.Name,
		Streams:   streams,
	}, nil
}
