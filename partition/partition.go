// Package partition implements C8: the partition router variants
// that decide what independent slices of a stream to sync.
package partition

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/flowbridge/connectkit/httpclient"
	"github.com/flowbridge/connectkit/jsonpath"
	"github.com/flowbridge/connectkit/template"
)

// Partition is one independently syncable slice of a stream.
type Partition struct {
	ID     string
	Values map[string]interface{}
}

// Router produces the partitions for one stream sync. An empty, nil-error
// result means "sync nothing", not a failure.
type Router interface {
	Partitions(ctx context.Context) ([]Partition, error)
}

// None yields a single implicit partition, for streams with no routing.
type None struct{}

func (None) Partitions(context.Context) ([]Partition, error) {
	return []Partition{{ID: "default", Values: map[string]interface{}{}}}, nil
}

// List yields one partition per literal configured value.
type List struct {
	Field  string
	Values []string
}

func (l List) Partitions(context.Context) ([]Partition, error) {
	var out = make([]Partition, 0, len(l.Values))
	for _, v := range l.Values {
		out = append(out, Partition{ID: v, Values: map[string]interface{}{l.Field: v}})
	}
	return out, nil
}

// Parent yields one partition per already-fetched parent record, keyed by
// parent_key's value in that record.
type Parent struct {
	ParentKey      string
	PartitionField string
	ParentRecords  []map[string]interface{}
}

func (p Parent) Partitions(context.Context) ([]Partition, error) {
	var out = make([]Partition, 0, len(p.ParentRecords))
	for _, rec := range p.ParentRecords {
		v, ok := jsonpath.Extract(rec, p.ParentKey)
		if !ok {
			continue
		}
		out = append(out, Partition{
			ID:     fmt.Sprintf("%v", v),
			Values: map[string]interface{}{p.PartitionField: v},
		})
	}
	return out, nil
}

// DateRange slices [Start, End) into windows of Step, each becoming a
// partition whose id is Format applied to the window's start.
type DateRange struct {
	Start, End time.Time
	Step       time.Duration
	Format     string
	StartParam string
	EndParam   string
}

func (d DateRange) Partitions(context.Context) ([]Partition, error) {
	if d.Step <= 0 {
		return nil, fmt.Errorf("date_range partition requires a positive step")
	}
	var out []Partition
	for cur := d.Start; cur.Before(d.End); cur = cur.Add(d.Step) {
		var windowEnd = cur.Add(d.Step)
		if windowEnd.After(d.End) {
			windowEnd = d.End
		}
		var id = cur.Format(goLayout(d.Format))
		out = append(out, Partition{
			ID: id,
			Values: map[string]interface{}{
				d.StartParam: cur.Format(goLayout(d.Format)),
				d.EndParam:   windowEnd.Format(goLayout(d.Format)),
			},
		})
	}
	return out, nil
}

// goLayout translates a small set of common strftime-ish tokens to Go's
// reference-time layout; connector documents are expected to use one of
// these, matching the date formats seen across the example pack's own
// config-driven date handling.
func goLayout(format string) string {
	switch format {
	case "", "date":
		return "2006-01-02"
	case "datetime":
		return "2006-01-02T15:04:05Z07:00"
	default:
		return format
	}
}

// AsyncJob completes the partially-wired upstream variant: it creates a
// job, polls until completion, and yields a single partition carrying the
// job id. Any download-URL handling is left to the stream's own request
// template.
type AsyncJob struct {
	Client *httpclient.Client

	CreateEndpoint string
	PollEndpoint   string
	JobIDPath      string
	CompletedPath  string
	CompletedValue interface{}

	PollInterval time.Duration
	PollTimeout  time.Duration

	TemplateContext *template.Context
}

func (a AsyncJob) Partitions(ctx context.Context) ([]Partition, error) {
	_, createBody, err := a.Client.Do(ctx, http.MethodPost, a.CreateEndpoint, a.TemplateContext, httpclient.RequestConfig{})
	if err != nil {
		return nil, fmt.Errorf("creating async job: %w", err)
	}

	jobID, ok := extractJSONString(createBody, a.JobIDPath)
	if !ok {
		return nil, fmt.Errorf("async job response missing job id at %q", a.JobIDPath)
	}

	var pollCtx = a.TemplateContext.Clone()
	pollCtx.Partition["job_id"] = jobID

	var interval = a.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	var deadline time.Time
	if a.PollTimeout > 0 {
		deadline = time.Now().Add(a.PollTimeout)
	}

	for {
		_, pollBody, err := a.Client.Do(ctx, http.MethodGet, a.PollEndpoint, pollCtx, httpclient.RequestConfig{})
		if err != nil {
			return nil, fmt.Errorf("polling async job %q: %w", jobID, err)
		}

		var doc interface{}
		if v, ok := decodeJSON(pollBody); ok {
			doc = v
		}
		if v, ok := jsonpath.Extract(doc, a.CompletedPath); ok && reflect.DeepEqual(v, a.CompletedValue) {
			return []Partition{{ID: jobID, Values: map[string]interface{}{"job_id": jobID}}}, nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, fmt.Errorf("async job %q did not complete before timeout", jobID)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func extractJSONString(body []byte, path string) (string, bool) {
	doc, ok := decodeJSON(body)
	if !ok {
		return "", false
	}
	return jsonpath.ExtractString(doc, path)
}

func decodeJSON(body []byte) (interface{}, bool) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false
	}
	return doc, true
}
