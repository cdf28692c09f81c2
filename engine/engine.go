// Package engine implements C11: the extraction engine that orchestrates
// C1-C10 for each stream of a connector, plus the four
// top-level operations (check, discover, streams, read) that
// cmd/connectkit exposes.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/flowbridge/connectkit/auth"
	"github.com/flowbridge/connectkit/columnar"
	"github.com/flowbridge/connectkit/connector"
	"github.com/flowbridge/connectkit/decode"
	"github.com/flowbridge/connectkit/httpclient"
	"github.com/flowbridge/connectkit/jsonpath"
	"github.com/flowbridge/connectkit/message"
	"github.com/flowbridge/connectkit/ops"
	"github.com/flowbridge/connectkit/paginate"
	"github.com/flowbridge/connectkit/partition"
	"github.com/flowbridge/connectkit/ratelimit"
	"github.com/flowbridge/connectkit/schema"
	"github.com/flowbridge/connectkit/statestore"
	"github.com/flowbridge/connectkit/template"
)

// CancelledError reports cooperative cancellation mid-read: the in-memory
// batch at the point of cancellation has already been flushed and state
// saved before this error surfaces.
type CancelledError struct {
	Stream string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("read cancelled during stream %q", e.Stream)
}

// Options configures one run of the engine.
type Options struct {
	Config    map[string]interface{}
	Vars      map[string]interface{}
	FailFast  bool
	BatchSize int
	MaxRecords int
	EmitStatePerPage bool
	ColumnarWriter *columnar.Writer
}

// Engine runs check/discover/streams/read operations for one loaded
// ConnectorDefinition. It owns the State store and HTTP pipeline
// exclusively for the duration of a run, and implements ops.Sink so the
// logger's output folds into the same message stream as records.
type Engine struct {
	def    *connector.ConnectorDefinition
	store  *statestore.Store
	client *httpclient.Client
	logger *ops.Local
	enc    *message.Encoder
	opts   Options
}

// New builds an Engine for def, emitting messages through enc and
// checkpointing into store.
func New(def *connector.ConnectorDefinition, store *statestore.Store, enc *message.Encoder, opts Options) *Engine {
	var e = &Engine{def: def, store: store, enc: enc, opts: opts}
	e.logger = ops.NewLocal(def.Name, e)

	var limiter = ratelimit.Disabled()
	if def.HTTP.RateLimitRPS > 0 {
		limiter = ratelimit.New(def.HTTP.RateLimitRPS, int(def.HTTP.RateLimitRPS)+1)
	}

	var tctx = template.NewContext()
	tctx.Config = opts.Config
	if opts.Vars != nil {
		tctx.Vars = opts.Vars
	}

	e.client = &httpclient.Client{
		HTTP:               &http.Client{Timeout: time.Duration(def.HTTP.TimeoutSecs) * time.Second},
		RateLimiter:        limiter,
		Auth:               auth.New(def.Auth, &http.Client{Timeout: time.Duration(def.HTTP.TimeoutSecs) * time.Second}),
		Logger:             e.logger,
		DefaultTimeout:      time.Duration(def.HTTP.TimeoutSecs) * time.Second,
		DefaultMaxRetries:   def.HTTP.MaxRetries,
		DefaultBackoffType:  httpclient.BackoffExponential,
		InitialBackoff:      time.Second,
		MaxBackoff:          time.Minute,
	}
	return e
}

// Emit implements ops.Sink, folding every logged line into the run's
// message stream.
func (e *Engine) Emit(m message.Message) {
	_ = e.enc.Encode(m)
}

func (e *Engine) newTemplateContext() *template.Context {
	var tctx = template.NewContext()
	tctx.Config = e.opts.Config
	if e.opts.Vars != nil {
		tctx.Vars = e.opts.Vars
	}
	return tctx
}

// Check performs a lightweight connectivity probe against the connector's
// base_url or its configured check request.
func (e *Engine) Check(ctx context.Context) error {
	var tctx = e.newTemplateContext()

	var path string
	var params map[string]string
	if e.def.Check != nil {
		path = e.def.Check.Path
		params = e.def.Check.Params
	}

	var url = e.def.BaseURL + path
	_, _, err := e.client.Do(ctx, http.MethodGet, url, tctx, httpclient.RequestConfig{
		Params:  params,
		Headers: e.def.Headers,
	})
	if err != nil {
		e.enc.Encode(message.ConnectionStatusMessage(message.StatusFailed, err.Error()))
		return fmt.Errorf("check failed: %w", err)
	}
	e.enc.Encode(message.ConnectionStatusMessage(message.StatusSucceeded, ""))
	return nil
}

// Streams lists the connector's declared stream names without sampling
// any schema.
func (e *Engine) Streams(ctx context.Context) error {
	var names = make([]string, 0, len(e.def.Streams))
	for _, s := range e.def.Streams {
		names = append(names, s.Name)
	}
	e.enc.Encode(message.StreamsMessage(names))
	return nil
}

// Discover samples a handful of records per stream to induce each one's
// JSON Schema and emits a CATALOG message.
func (e *Engine) Discover(ctx context.Context, sampleSize int) error {
	if sampleSize <= 0 {
		sampleSize = 50
	}

	var entries = make([]message.StreamCatalogEntry, 0, len(e.def.Streams))
	for _, stream := range e.def.Streams {
		var infer = schema.New()
		records, err := e.sampleStream(ctx, stream, sampleSize)
		if err != nil {
			e.logger.Warnf("discover: sampling stream %q failed: %v", stream.Name, err)
		}
		for _, r := range records {
			infer.Observe(r)
		}
		var induced = infer.Build()

		entries = append(entries, message.StreamCatalogEntry{
			Name:               stream.Name,
			JSONSchema:         map[string]interface{}{"type": induced.Type, "properties": induced.Properties, "required": induced.Required},
			SupportedSyncModes: []string{"full_refresh", "incremental"},
			DefaultCursorField: nonEmptyList(stream.CursorField),
			PrimaryKey:         stream.PrimaryKey,
		})
	}

	e.enc.Encode(message.CatalogMessage(entries))
	return nil
}

func nonEmptyList(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func (e *Engine) sampleStream(ctx context.Context, stream connector.StreamDefinition, limit int) ([]map[string]interface{}, error) {
	var tctx = e.newTemplateContext()
	var dec = buildDecoder(stream.Decoder)

	var url = e.def.BaseURL + stream.Request.Path
	_, body, err := e.client.Do(ctx, string(stream.EffectiveMethod()), url, tctx, httpclient.RequestConfig{
		Params:  stream.Request.Params,
		Headers: mergeHeaders(e.def.Headers, stream.Headers),
	})
	if err != nil {
		return nil, err
	}

	records, err := dec.Decode(body)
	if err != nil {
		return nil, err
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Read runs the full extraction loop over every stream, emitting
// Record/State messages and a final SyncSummary.
func (e *Engine) Read(ctx context.Context) error {
	var start = time.Now()
	var summary = message.SyncSummary{TotalStreams: len(e.def.Streams)}

	for _, stream := range e.def.Streams {
		var streamSummary, err = e.readStream(ctx, stream)
		summary.TotalRecords += streamSummary.Records
		summary.Streams = append(summary.Streams, streamSummary)

		if err != nil {
			summary.FailedStreams++

			var cancelled *CancelledError
			if errors.As(err, &cancelled) {
				summary.Status = message.StatusFailed
				summary.DurationMs = time.Since(start).Milliseconds()
				e.enc.Encode(message.SyncSummaryMessage(summary))
				if saveErr := e.store.Save(); saveErr != nil {
					e.logger.Warnf("saving state after cancellation: %v", saveErr)
				}
				return cancelled
			}

			if e.opts.FailFast {
				summary.Status = message.StatusFailed
				summary.DurationMs = time.Since(start).Milliseconds()
				e.enc.Encode(message.SyncSummaryMessage(summary))
				return fmt.Errorf("stream %q failed: %w", stream.Name, err)
			}
			continue
		}
		summary.SuccessfulStreams++
	}

	switch {
	case summary.FailedStreams == 0:
		summary.Status = message.StatusSucceeded
	case summary.SuccessfulStreams == 0:
		summary.Status = message.StatusFailed
	default:
		summary.Status = message.StatusPartial
	}
	summary.DurationMs = time.Since(start).Milliseconds()
	e.enc.Encode(message.SyncSummaryMessage(summary))

	if err := e.store.Save(); err != nil {
		return fmt.Errorf("saving final state: %w", err)
	}
	return nil
}

func (e *Engine) readStream(ctx context.Context, stream connector.StreamDefinition) (message.StreamSummary, error) {
	var summary = message.StreamSummary{Name: stream.Name}

	var router = buildRouter(stream.Partition, e.client, e.newTemplateContext())
	parts, err := router.Partitions(ctx)
	if err != nil {
		var errMsg = err.Error()
		summary.Status = message.StatusFailed
		summary.Error = &errMsg
		return summary, err
	}
	if len(parts) == 0 {
		summary.Status = message.StatusSucceeded
		return summary, nil
	}

	var total int64
	for _, part := range parts {
		if e.store.PartitionCompleted(stream.Name, part.ID) {
			continue
		}

		var tctx = e.newTemplateContext()
		for k, v := range part.Values {
			tctx.Partition[k] = v
		}
		if cursor, ok := e.store.StreamCursor(stream.Name); ok {
			tctx.State[stream.Name] = map[string]interface{}{"cursor": cursor}
		}

		n, err := e.readPartition(ctx, stream, tctx)
		total += n
		if err != nil {
			var errMsg = err.Error()
			summary.Status = message.StatusFailed
			summary.Error = &errMsg
			summary.Records = total

			var cancelled *CancelledError
			if e.opts.FailFast || errors.As(err, &cancelled) {
				return summary, err
			}
			e.logger.Errorf("stream %q partition %q failed: %v", stream.Name, part.ID, err)
			continue
		}
		if err := e.store.SetPartitionCompleted(stream.Name, part.ID, true); err != nil {
			e.logger.Warnf("stream %q: marking partition %q complete: %v", stream.Name, part.ID, err)
		}
	}

	summary.Records = total
	if summary.Status == "" {
		summary.Status = message.StatusSucceeded
	}
	return summary, nil
}

// readPartition runs the single-stream page loop: fetch, decode, buffer,
// emit, advance, stop, for one partition's template context.
func (e *Engine) readPartition(ctx context.Context, stream connector.StreamDefinition, tctx *template.Context) (int64, error) {
	var dec = buildDecoder(stream.Decoder)
	var pager = buildPaginator(stream.Pagination)

	var batchSize = e.opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	var buffer []map[string]interface{}
	var total int64
	var params = pager.InitialParams()
	var nextURL string
	var cursor = cursorAccumulator{field: stream.CursorField}

	for {
		if ctx.Err() != nil {
			e.drainBuffer(stream.Name, &buffer, len(buffer), &cursor)
			return total, &CancelledError{Stream: stream.Name}
		}

		var target = nextURL
		if target == "" {
			target = e.def.BaseURL + stream.Request.Path
		}

		resp, body, err := e.client.Do(ctx, string(stream.EffectiveMethod()), target, tctx, httpclient.RequestConfig{
			Params:  params,
			Headers: mergeHeaders(e.def.Headers, stream.Headers),
		})
		if err != nil {
			if ctx.Err() != nil {
				e.drainBuffer(stream.Name, &buffer, len(buffer), &cursor)
				return total, &CancelledError{Stream: stream.Name}
			}
			return total, fmt.Errorf("fetching %q: %w", stream.Name, err)
		}

		records, err := dec.Decode(body)
		if err != nil {
			return total, fmt.Errorf("decoding %q response: %w", stream.Name, err)
		}

		buffer = append(buffer, records...)
		total += int64(len(records))

		if e.opts.MaxRecords > 0 && total >= int64(e.opts.MaxRecords) {
			var overflow = total - int64(e.opts.MaxRecords)
			buffer = buffer[:int64(len(buffer))-overflow]
			total -= overflow
			e.drainBuffer(stream.Name, &buffer, len(buffer), &cursor)
			break
		}

		var doc interface{}
		_ = unmarshalLenient(body, &doc)
		var next = pager.Next(paginate.Response{Body: doc, RecordCount: len(records), Headers: resp.Header})

		if len(buffer) >= batchSize {
			e.drainBuffer(stream.Name, &buffer, batchSize, &cursor)
		}

		if e.opts.EmitStatePerPage {
			if cv, ok := cursor.Value(); ok {
				if err := e.store.SetStreamCursor(stream.Name, cv); err == nil {
					if snap, err := e.store.Snapshot(); err == nil {
						e.enc.Encode(message.StateMessage(snap))
					}
				}
			}
		}

		if next.Done {
			break
		}
		params = next.Params
		nextURL = next.URL
	}

	e.drainBuffer(stream.Name, &buffer, len(buffer), &cursor)

	if cv, ok := cursor.Value(); ok {
		if err := e.store.SetStreamCursor(stream.Name, cv); err != nil {
			return total, fmt.Errorf("saving cursor for %q: %w", stream.Name, err)
		}
		if snap, err := e.store.Snapshot(); err == nil {
			e.enc.Encode(message.StateMessage(snap))
		}
	}

	return total, nil
}

// drainBuffer emits the first n records of buffer as Record messages,
// updating cursor from exactly the batch emitted so a trimmed or
// partially-drained buffer never advances the cursor past what was
// actually sent downstream.
func (e *Engine) drainBuffer(streamName string, buffer *[]map[string]interface{}, n int, cursor *cursorAccumulator) {
	if n <= 0 || len(*buffer) == 0 {
		return
	}
	if n > len(*buffer) {
		n = len(*buffer)
	}
	var batch = (*buffer)[:n]
	*buffer = (*buffer)[n:]

	cursor.Update(batch)

	var now = time.Now().UnixMilli()
	for _, rec := range batch {
		e.enc.Encode(message.RecordMessage(streamName, rec, now))
	}

	if e.opts.ColumnarWriter != nil {
		var converted = columnar.Convert(batch)
		if _, err := e.opts.ColumnarWriter.Write(context.Background(), streamName, converted, time.Now()); err != nil {
			e.logger.Warnf("writing columnar batch for %q: %v", streamName, err)
		}
	}
}

func mergeHeaders(base, override map[string]string) map[string]string {
	var out = make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func unmarshalLenient(body []byte, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func buildDecoder(spec connector.DecoderSpec) decode.Decoder {
	switch spec.Type {
	case connector.DecoderJSONL:
		return decode.JSONL{}
	case connector.DecoderCSV:
		var hasHeader = true
		if spec.HasHeader != nil {
			hasHeader = *spec.HasHeader
		}
		return decode.CSV{Delimiter: spec.Delimiter, HasHeader: hasHeader}
	case connector.DecoderXML:
		return decode.XML{RecordsPath: spec.RecordsPath}
	default:
		return decode.JSON{RecordsPath: spec.RecordsPath}
	}
}

func buildPaginator(spec connector.PaginationSpec) paginate.Paginator {
	var stop = buildStop(spec.Stop)
	switch spec.Type {
	case connector.PaginationOffset:
		return &paginate.Offset{OffsetParam: spec.OffsetParam, LimitParam: spec.LimitParam, Limit: spec.Limit, Stop: stop}
	case connector.PaginationPageNumber:
		return &paginate.PageNumber{PageParam: spec.PageParam, StartPage: spec.StartPage, SizeParam: spec.SizeParam, PageSize: spec.PageSize, Stop: stop}
	case connector.PaginationCursor:
		return &paginate.Cursor{CursorParam: spec.CursorParam, CursorPath: spec.CursorPath, Stop: stop}
	case connector.PaginationLinkHeader:
		return &paginate.LinkHeader{Rel: spec.Rel, Stop: stop}
	case connector.PaginationNextURL:
		return &paginate.NextUrl{URLPath: spec.URLPath, Stop: stop}
	default:
		return paginate.None{}
	}
}

func buildStop(spec *connector.StopConditionSpec) *paginate.Stop {
	if spec == nil {
		return nil
	}
	var value interface{}
	_ = json.Unmarshal(spec.Value, &value)
	switch spec.Type {
	case connector.StopEmptyPage:
		return &paginate.Stop{Kind: paginate.StopEmptyPage}
	case connector.StopTotalCount:
		return &paginate.Stop{Kind: paginate.StopTotalCount, Path: spec.Path}
	case connector.StopTotalPages:
		return &paginate.Stop{Kind: paginate.StopTotalPages, Path: spec.Path}
	case connector.StopField:
		return &paginate.Stop{Kind: paginate.StopField, Path: spec.Path, Value: value}
	default:
		return nil
	}
}

func buildRouter(spec connector.PartitionSpec, client *httpclient.Client, tctx *template.Context) partition.Router {
	switch spec.Type {
	case connector.PartitionList:
		return partition.List{Field: spec.Field, Values: spec.Values}
	case connector.PartitionDateRange:
		start, _ := time.Parse("2006-01-02", spec.Start)
		end, _ := time.Parse("2006-01-02", spec.End)
		return partition.DateRange{
			Start: start, End: end, Step: parseStep(spec.Step), Format: spec.Format,
			StartParam: spec.StartParam, EndParam: spec.EndParam,
		}
	case connector.PartitionAsyncJob:
		var completedValue interface{}
		_ = json.Unmarshal(spec.CompletedValue, &completedValue)
		return partition.AsyncJob{
			Client:          client,
			CreateEndpoint:  spec.CreateEndpoint,
			PollEndpoint:    spec.PollEndpoint,
			JobIDPath:       spec.JobIDPath,
			CompletedPath:   spec.CompletedPath,
			CompletedValue:  completedValue,
			TemplateContext: tctx,
		}
	case connector.PartitionParent:
		// Parent partitions are built from the parent stream's
		// already-fetched records. No parent records are supplied here
		// (ParentRecords stays empty), so a parent-partitioned stream
		// yields an empty partition set and syncs nothing.
		return partition.Parent{ParentKey: spec.ParentKey, PartitionField: spec.PartitionField}
	default:
		return partition.None{}
	}
}

// parseStep interprets a date_range partition's step as either a Go
// duration string ("24h") or one of a few common calendar words; it falls
// back to a single day, the most common window connectors configure.
func parseStep(step string) time.Duration {
	switch step {
	case "", "day", "daily":
		return 24 * time.Hour
	case "week", "weekly":
		return 7 * 24 * time.Hour
	case "hour", "hourly":
		return time.Hour
	}
	if d, err := time.ParseDuration(step); err == nil && d > 0 {
		return d
	}
	return 24 * time.Hour
}

// cursorAccumulator tracks the maximum value at cursor_field's dotted path
// seen across any number of record batches, so a partition's final emitted
// cursor reflects every page fetched, not just the last one decoded. The
// field is resolved with jsonpath.Extract rather than a flat map lookup, so
// a nested cursor_field like "meta.updated_at" is honored the same way
// cursor pagination's cursor_path already is.
type cursorAccumulator struct {
	field            string
	haveNum, haveStr bool
	maxNum           float64
	maxStr           string
}

func (c *cursorAccumulator) Update(records []map[string]interface{}) {
	if c.field == "" {
		return
	}
	for _, rec := range records {
		v, ok := jsonpath.Extract(rec, c.field)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			if !c.haveNum || t > c.maxNum {
				c.maxNum = t
				c.haveNum = true
			}
		case string:
			if !c.haveStr || t > c.maxStr {
				c.maxStr = t
				c.haveStr = true
			}
		}
	}
}

func (c *cursorAccumulator) Value() (string, bool) {
	if !c.haveNum && !c.haveStr {
		return "", false
	}
	if c.haveNum && !c.haveStr {
		return fmt.Sprintf("%v", c.maxNum), true
	}
	if c.haveStr && !c.haveNum {
		return c.maxStr, true
	}
	// mixed types fall back to string comparison.
	var candidates = []string{fmt.Sprintf("%v", c.maxNum), c.maxStr}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], true
}
