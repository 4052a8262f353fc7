package repository

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/pkg/cassandra"
	"github.com/mbeoliero/widechat/pkg/constant"
)

// ErrInvalidCursor is returned for a cursor that is malformed or belongs to another listing
var ErrInvalidCursor = errors.New("invalid page cursor")

// PageQuery is one listing: the row statement and a COUNT(*) over the same predicate
type PageQuery struct {
	Stmt      string
	CountStmt string
	Args      []interface{}
}

// PageResult is a page of raw rows
type PageResult struct {
	Rows       []cassandra.Row
	Total      int64
	Page       int
	PageSize   int
	NextCursor string
}

type pageCursor struct {
	Query    string `json:"q"`
	Page     int    `json:"p"`
	PageSize int    `json:"n"`
	State    []byte `json:"s"`
}

// Pager serves page-numbered listings on top of native paging state.
//
// Page N without a cursor costs O(N*page_size) rows on a cold cache, since the store can only
// resume from a paging state. Every page boundary walked is cached, and each page carries a
// cursor that resumes the next page in O(page_size).
type Pager struct {
	session         cassandra.Session
	states          *PageStateCache
	defaultPageSize int
	maxPageSize     int
}

// NewPager creates a new Pager. states may be nil.
func NewPager(session cassandra.Session, states *PageStateCache, defaultPageSize, maxPageSize int) *Pager {
	if defaultPageSize <= 0 {
		defaultPageSize = constant.DefaultPageSize
	}
	if maxPageSize <= 0 {
		maxPageSize = constant.MaxPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}
	return &Pager{
		session:         session,
		states:          states,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// Normalize clamps the page number and size
func (p *Pager) Normalize(req entity.PageRequest) entity.PageRequest {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = p.defaultPageSize
	}
	if req.PageSize > p.maxPageSize {
		req.PageSize = p.maxPageSize
	}
	return req
}

// Fetch returns the requested page of q. A page past the end is empty, not an error.
func (p *Pager) Fetch(ctx context.Context, q PageQuery, req entity.PageRequest) (*PageResult, error) {
	req = p.Normalize(req)

	var start []byte
	if req.Cursor != "" {
		c, err := decodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		if c.PageSize <= 0 || c.PageSize > p.maxPageSize || c.Page < 2 || c.Query != queryKey(q, c.PageSize) {
			return nil, ErrInvalidCursor
		}
		req.Page, req.PageSize, start = c.Page, c.PageSize, c.State
	}

	total, err := p.count(ctx, q)
	if err != nil {
		return nil, err
	}

	res := &PageResult{
		Rows:     []cassandra.Row{},
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	}

	key := queryKey(q, req.PageSize)
	if req.Cursor == "" && req.Page > 1 {
		var ok bool
		start, ok, err = p.seek(ctx, q, key, req.Page, req.PageSize)
		if err != nil {
			return nil, err
		}
		if !ok {
			return res, nil
		}
	}

	rows, next, err := p.fill(ctx, q, req.PageSize, start)
	if err != nil {
		return nil, err
	}
	res.Rows = rows

	if len(next) > 0 {
		p.states.Put(ctx, key, req.Page+1, next)
		res.NextCursor = encodeCursor(pageCursor{Query: key, Page: req.Page + 1, PageSize: req.PageSize, State: next})
	}
	return res, nil
}

// seek finds the paging state where page begins. ok is false when the scan ends before it.
func (p *Pager) seek(ctx context.Context, q PageQuery, key string, page, size int) ([]byte, bool, error) {
	if state, ok := p.states.Get(ctx, key, page); ok {
		return state, true, nil
	}

	var state []byte
	for n := 1; n < page; n++ {
		if cached, ok := p.states.Get(ctx, key, n+1); ok {
			state = cached
			continue
		}
		_, next, err := p.fill(ctx, q, size, state)
		if err != nil {
			return nil, false, err
		}
		if len(next) == 0 {
			return nil, false, nil
		}
		p.states.Put(ctx, key, n+1, next)
		state = next
	}
	return state, true, nil
}

// fill fetches exactly the rows still missing until the page is full or the scan is exhausted,
// so the returned state marks the exact end of the page.
func (p *Pager) fill(ctx context.Context, q PageQuery, size int, state []byte) ([]cassandra.Row, []byte, error) {
	rows := make([]cassandra.Row, 0, size)
	for {
		got, next, err := p.session.QueryPage(ctx, q.Stmt, size-len(rows), state, q.Args...)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, got...)
		if len(next) == 0 {
			return rows, nil, nil
		}
		if len(rows) >= size {
			return rows, next, nil
		}
		state = next
	}
}

func (p *Pager) count(ctx context.Context, q PageQuery) (int64, error) {
	rows, err := p.session.Query(ctx, q.CountStmt, q.Args...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Int64("count"), nil
}

// queryKey identifies a listing at a page size
func queryKey(q PageQuery, pageSize int) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%v\x00%d", q.Stmt, q.Args, pageSize)
	return hex.EncodeToString(h.Sum(nil))
}

func encodeCursor(c pageCursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (*pageCursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c pageCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// newPage converts a page of rows into a typed page
func newPage[T any](res *PageResult, items []T) *entity.Page[T] {
	if items == nil {
		items = []T{}
	}
	return &entity.Page[T]{
		Total:      res.Total,
		Page:       res.Page,
		PageSize:   res.PageSize,
		Items:      items,
		NextCursor: res.NextCursor,
	}
}
