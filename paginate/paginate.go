// Package paginate implements C7: the pagination state machine
// that decides, after each page, whether to continue and
// with which query params/url, or to stop.
package paginate

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/flowbridge/connectkit/jsonpath"
)

// NextPage is the outcome of advancing a Paginator after one response.
type NextPage struct {
	Done   bool
	Params map[string]string
	URL    string
}

// Done is the canonical terminal NextPage value.
var Done = NextPage{Done: true}

// Response is the minimal view a Paginator needs of one page's outcome:
// the decoded body (for JSONPath extraction), the number of records
// decoded from it, and the response headers (for Link-header following).
type Response struct {
	Body        interface{}
	RecordCount int
	Headers     http.Header
}

// StopConditionKind discriminates a Stop condition's variant.
type StopConditionKind int

const (
	StopNone StopConditionKind = iota
	StopEmptyPage
	StopTotalCount
	StopTotalPages
	StopField
)

// Stop is a pagination stop condition, checked in addition
// to whatever the active Paginator variant itself would do.
type Stop struct {
	Kind  StopConditionKind
	Path  string
	Value interface{}
}

// shouldStop evaluates a stop condition against accumulated sync state.
func (s Stop) shouldStop(resp Response, page, totalFetched int) bool {
	switch s.Kind {
	case StopEmptyPage:
		return resp.RecordCount == 0
	case StopTotalCount:
		v, ok := jsonpath.Extract(resp.Body, s.Path)
		if !ok {
			return false
		}
		n, ok := toFloat(v)
		return ok && float64(totalFetched) >= n
	case StopTotalPages:
		v, ok := jsonpath.Extract(resp.Body, s.Path)
		if !ok {
			return false
		}
		n, ok := toFloat(v)
		return ok && float64(page) >= n
	case StopField:
		v, ok := jsonpath.Extract(resp.Body, s.Path)
		if !ok {
			return false
		}
		// strict typed equality, per original_source's serde_json::Value::eq.
		return reflect.DeepEqual(v, s.Value)
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Paginator advances pagination state across pages for one stream sync.
type Paginator interface {
	// InitialParams returns the query params for the first request.
	InitialParams() map[string]string
	// Next inspects the just-fetched page and decides how to continue.
	Next(resp Response) NextPage
}

// None never paginates: a single page is always the whole answer.
type None struct{}

func (None) InitialParams() map[string]string { return nil }
func (None) Next(Response) NextPage           { return Done }

// Offset advances an offset by the page's record count on each call.
type Offset struct {
	OffsetParam string
	LimitParam  string
	Limit       int
	Stop        *Stop

	offset       int
	page         int
	totalFetched int
}

func (o *Offset) InitialParams() map[string]string {
	return map[string]string{o.LimitParam: strconv.Itoa(o.Limit)}
}

func (o *Offset) Next(resp Response) NextPage {
	o.page++
	o.totalFetched += resp.RecordCount
	if o.Stop != nil && o.Stop.shouldStop(resp, o.page, o.totalFetched) {
		return Done
	}
	// Advances by the page's actual record count, not by Limit: a final
	// short page (fewer rows than Limit) still advances the offset
	// correctly, and a source that over- or under-fills a page never
	// skips or re-fetches rows. When every page is full this is
	// equivalent to advancing by Limit.
	o.offset += resp.RecordCount
	return NextPage{Params: map[string]string{
		o.OffsetParam: strconv.Itoa(o.offset),
		o.LimitParam:  strconv.Itoa(o.Limit),
	}}
}

// PageNumber advances a page counter from a configured start.
type PageNumber struct {
	PageParam string
	StartPage int
	SizeParam string
	PageSize  int
	Stop      *Stop

	page         int
	started      bool
	totalFetched int
}

func (p *PageNumber) InitialParams() map[string]string {
	p.page = p.StartPage
	p.started = true
	return p.paramsFor(p.page)
}

func (p *PageNumber) paramsFor(page int) map[string]string {
	var params = map[string]string{p.PageParam: strconv.Itoa(page)}
	if p.SizeParam != "" {
		params[p.SizeParam] = strconv.Itoa(p.PageSize)
	}
	return params
}

func (p *PageNumber) Next(resp Response) NextPage {
	if !p.started {
		p.page = p.StartPage
		p.started = true
	}
	p.totalFetched += resp.RecordCount
	if p.Stop != nil && p.Stop.shouldStop(resp, p.page, p.totalFetched) {
		return Done
	}
	p.page++
	return NextPage{Params: p.paramsFor(p.page)}
}

// Cursor extracts a continuation token from each response body via
// JSONPath. Per original_source/src/pagination/types.rs's
// CursorPaginator::process_response, an unchanged cursor also stops.
type Cursor struct {
	CursorParam string
	CursorPath  string
	Stop        *Stop

	lastCursor   string
	seen         bool
	page         int
	totalFetched int
}

func (c *Cursor) InitialParams() map[string]string { return nil }

func (c *Cursor) Next(resp Response) NextPage {
	c.page++
	c.totalFetched += resp.RecordCount
	if c.Stop != nil && c.Stop.shouldStop(resp, c.page, c.totalFetched) {
		return Done
	}

	cursor, ok := jsonpath.ExtractString(resp.Body, c.CursorPath)
	if !ok || cursor == "" {
		return Done
	}
	if c.seen && cursor == c.lastCursor {
		return Done
	}
	c.lastCursor = cursor
	c.seen = true
	return NextPage{Params: map[string]string{c.CursorParam: cursor}}
}

// LinkHeader follows an RFC-5988 Link header's entry for the configured
// rel (default "next").
type LinkHeader struct {
	Rel string

	page         int
	totalFetched int
	Stop         *Stop
}

func (l *LinkHeader) InitialParams() map[string]string { return nil }

func (l *LinkHeader) Next(resp Response) NextPage {
	l.page++
	l.totalFetched += resp.RecordCount
	if l.Stop != nil && l.Stop.shouldStop(resp, l.page, l.totalFetched) {
		return Done
	}

	var rel = l.Rel
	if rel == "" {
		rel = "next"
	}
	url, ok := parseLinkHeader(resp.Headers.Get("Link"), rel)
	if !ok {
		return Done
	}
	return NextPage{URL: url}
}

// parseLinkHeader implements the subset of RFC 5988 needed here:
// comma-separated `<url>; rel="name"` entries.
func parseLinkHeader(header, rel string) (string, bool) {
	if header == "" {
		return "", false
	}
	for _, entry := range strings.Split(header, ",") {
		var parts = strings.Split(entry, ";")
		if len(parts) < 2 {
			continue
		}
		var url = strings.TrimSpace(parts[0])
		url = strings.TrimPrefix(url, "<")
		url = strings.TrimSuffix(url, ">")

		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			if !strings.HasPrefix(p, "rel=") {
				continue
			}
			var val = strings.Trim(strings.TrimPrefix(p, "rel="), `"`)
			if val == rel {
				return url, true
			}
		}
	}
	return "", false
}

// NextUrl extracts a full URL from the response body via JSONPath.
type NextUrl struct {
	URLPath string
	Stop    *Stop

	page         int
	totalFetched int
}

func (n *NextUrl) InitialParams() map[string]string { return nil }

func (n *NextUrl) Next(resp Response) NextPage {
	n.page++
	n.totalFetched += resp.RecordCount
	if n.Stop != nil && n.Stop.shouldStop(resp, n.page, n.totalFetched) {
		return Done
	}

	url, ok := jsonpath.ExtractString(resp.Body, n.URLPath)
	if !ok || url == "" {
		return Done
	}
	return NextPage{URL: url}
}
