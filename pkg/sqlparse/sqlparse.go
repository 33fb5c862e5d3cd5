/*
2025 © Logset
*/

// Package sqlparse wraps the SQL parser behind the small structured
// view the orchestrator needs: pagination and ordering facts, the
// shaping flags that gate histogram eligibility, and rendering back
// to text after mutation.
package sqlparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AlekSi/pointer"
	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"
)

// Fixed aliases of the histogram aggregation columns. The backend and
// the chart merge logic both key on these names.
const (
	HistogramKeyAlias = "zo_sql_key"
	HistogramNumAlias = "zo_sql_num"
)

// ErrNotSelect is returned for statements other than SELECT.
var ErrNotSelect = errors.New("only SELECT statements are supported")

var cteRe = regexp.MustCompile(`(?is)^\s*with\s`)

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Field string
	Desc  bool
}

// QueryIR is the structured view of one parsed statement. CTE queries
// are kept opaque (the parser has no CTE support): they render back
// verbatim and expose only the HasCTE flag.
type QueryIR struct {
	Raw     string
	Table   string
	Columns []string
	OrderBy []OrderItem
	Limit   *int
	Offset  *int

	Distinct       bool
	HasCTE         bool
	HasJoin        bool
	HasAggregation bool

	stmt *sqlparser.Select
}

// Parse builds a QueryIR from SQL text. Stream names are quoted with
// double quotes by the UI while the parser speaks the backtick
// dialect, so quoting is translated around the parser.
func Parse(sql string) (*QueryIR, error) {
	if cteRe.MatchString(sql) {
		return &QueryIR{Raw: sql, HasCTE: true}, nil
	}

	stmt, err := sqlparser.Parse(toBacktickQuoting(sql))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse SQL")
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, ErrNotSelect
	}

	ir := &QueryIR{
		Raw:      sql,
		Distinct: sel.Distinct != "",
		stmt:     sel,
	}

	ir.readFrom(sel)
	ir.readColumns(sel)
	ir.readOrderBy(sel)
	ir.readLimit(sel)

	if len(sel.GroupBy) > 0 {
		ir.HasAggregation = true
	}

	return ir, nil
}

func (ir *QueryIR) readFrom(sel *sqlparser.Select) {
	if len(sel.From) > 1 {
		ir.HasJoin = true
	}

	for _, tableExpr := range sel.From {
		ir.readTableExpr(tableExpr)
	}
}

func (ir *QueryIR) readTableExpr(tableExpr sqlparser.TableExpr) {
	switch expr := tableExpr.(type) {
	case *sqlparser.AliasedTableExpr:
		if name, ok := expr.Expr.(sqlparser.TableName); ok && ir.Table == "" {
			ir.Table = name.Name.String()
		}

	case *sqlparser.JoinTableExpr:
		ir.HasJoin = true
		ir.readTableExpr(expr.LeftExpr)
		ir.readTableExpr(expr.RightExpr)
	}
}

func (ir *QueryIR) readColumns(sel *sqlparser.Select) {
	for _, selectExpr := range sel.SelectExprs {
		switch expr := selectExpr.(type) {
		case *sqlparser.StarExpr:
			ir.Columns = append(ir.Columns, "*")

		case *sqlparser.AliasedExpr:
			switch inner := expr.Expr.(type) {
			case *sqlparser.ColName:
				ir.Columns = append(ir.Columns, inner.Name.String())

			case *sqlparser.FuncExpr:
				if inner.IsAggregate() {
					ir.HasAggregation = true
				}

				ir.Columns = append(ir.Columns, sqlparser.String(expr))

			default:
				ir.Columns = append(ir.Columns, sqlparser.String(expr))
			}
		}
	}
}

func (ir *QueryIR) readOrderBy(sel *sqlparser.Select) {
	for _, order := range sel.OrderBy {
		item := OrderItem{
			Desc: order.Direction == sqlparser.DescScr,
		}

		if col, ok := order.Expr.(*sqlparser.ColName); ok {
			item.Field = col.Name.String()
		} else {
			item.Field = sqlparser.String(order.Expr)
		}

		ir.OrderBy = append(ir.OrderBy, item)
	}
}

func (ir *QueryIR) readLimit(sel *sqlparser.Select) {
	if sel.Limit == nil {
		return
	}

	if n, ok := intVal(sel.Limit.Rowcount); ok {
		ir.Limit = pointer.ToInt(n)
	}

	if n, ok := intVal(sel.Limit.Offset); ok {
		ir.Offset = pointer.ToInt(n)
	}
}

func intVal(expr sqlparser.Expr) (int, bool) {
	val, ok := expr.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.IntVal {
		return 0, false
	}

	n, err := strconv.Atoi(string(val.Val))
	if err != nil {
		return 0, false
	}

	return n, true
}

// HasLimit reports whether the statement carried a LIMIT clause.
func (ir *QueryIR) HasLimit() bool {
	return ir.Limit != nil
}

// LimitValues returns (size, from) derived from the LIMIT/OFFSET
// clause, defaulting the offset to zero.
func (ir *QueryIR) LimitValues() (size, from int) {
	if ir.Limit != nil {
		size = *ir.Limit
	}

	if ir.Offset != nil {
		from = *ir.Offset
	}

	return size, from
}

// StripPagination drops LIMIT/OFFSET, used before partition planning
// so the backend sizes the whole range.
func (ir *QueryIR) StripPagination() {
	ir.Limit = nil
	ir.Offset = nil

	if ir.stmt != nil {
		ir.stmt.Limit = nil
	}
}

// OrderedAscBy reports whether the statement orders ascending by the
// given field. This drives the histogram partition-reversal rule.
func (ir *QueryIR) OrderedAscBy(field string) bool {
	for _, item := range ir.OrderBy {
		if strings.EqualFold(item.Field, field) {
			return !item.Desc
		}
	}

	return false
}

// WhereSQL renders the WHERE expression without the keyword, or an
// empty string.
func (ir *QueryIR) WhereSQL() string {
	if ir.stmt == nil || ir.stmt.Where == nil {
		return ""
	}

	return fromBacktickQuoting(sqlparser.String(ir.stmt.Where.Expr))
}

// Render serializes the (possibly mutated) statement back to text.
// Opaque CTE statements render verbatim.
func (ir *QueryIR) Render() string {
	if ir.stmt == nil {
		return ir.Raw
	}

	return fromBacktickQuoting(sqlparser.String(ir.stmt))
}

// HistogramSQL builds the companion histogram aggregation for a
// stream: bucketed counts over the timestamp column at the chart
// interval, ordered by bucket key.
func HistogramSQL(table, whereSQL, tsColumn string, intervalSeconds int64) string {
	var b strings.Builder

	fmt.Fprintf(&b, "SELECT histogram(%s, '%d second') AS %s, count(*) AS %s FROM \"%s\"",
		tsColumn, intervalSeconds, HistogramKeyAlias, HistogramNumAlias, table)

	if whereSQL != "" {
		fmt.Fprintf(&b, " WHERE %s", whereSQL)
	}

	fmt.Fprintf(&b, " GROUP BY %s ORDER BY %s", HistogramKeyAlias, HistogramKeyAlias)

	return b.String()
}

// UnionHistogramSQL builds one histogram query spanning several
// streams (multi-stream quick mode).
func UnionHistogramSQL(tables []string, tsColumn string, intervalSeconds int64) string {
	parts := make([]string, 0, len(tables))
	for _, table := range tables {
		parts = append(parts, HistogramSQL(table, "", tsColumn, intervalSeconds))
	}

	return strings.Join(parts, " UNION ALL ")
}

func toBacktickQuoting(sql string) string {
	return strings.ReplaceAll(sql, `"`, "`")
}

func fromBacktickQuoting(sql string) string {
	return strings.ReplaceAll(sql, "`", `"`)
}
