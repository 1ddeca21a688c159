package supabase

import (
	"context"
	"net/http"
	"net/url"
)

// QueryBuilder PostgREST 查询
//
//	err := client.From("messages").Select("*").Eq("channel_id", id).Order("created_at", true).Execute(ctx, &rows)
type QueryBuilder struct {
	c      *Client
	table  string
	params url.Values
}

// From 选择要操作的表
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{c: c, table: table, params: url.Values{}}
}

// Select 指定返回列，默认 *
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.params.Set("select", columns)
	return q
}

// Eq 追加 column = value 过滤条件
func (q *QueryBuilder) Eq(column, value string) *QueryBuilder {
	q.params.Add(column, "eq."+value)
	return q
}

// Order 追加排序，可多次调用
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	if existing := q.params.Get("order"); existing != "" {
		q.params.Set("order", existing+","+column+"."+dir)
	} else {
		q.params.Set("order", column+"."+dir)
	}
	return q
}

// Execute 执行 GET 查询，结果 JSON 数组解码到 dest
func (q *QueryBuilder) Execute(ctx context.Context, dest any) error {
	if q.params.Get("select") == "" {
		q.params.Set("select", "*")
	}
	req, err := q.c.newRequest(ctx, http.MethodGet, "/rest/v1/"+q.table, q.params, nil, q.c.Auth.AccessToken(ctx))
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Profile", q.c.schema)
	return q.c.do(req, dest)
}

// Insert 插入一条记录，不要求返回插入结果
func (q *QueryBuilder) Insert(ctx context.Context, record any) error {
	req, err := q.c.newRequest(ctx, http.MethodPost, "/rest/v1/"+q.table, nil, record, q.c.Auth.AccessToken(ctx))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Profile", q.c.schema)
	req.Header.Set("Prefer", "return=minimal")
	return q.c.do(req, nil)
}
