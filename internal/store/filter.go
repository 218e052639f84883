package store

// FilterOp is the comparison applied by a Filter against one indexed column.
type FilterOp int

const (
	// OpEq matches rows where the column equals Value.
	OpEq FilterOp = iota
	// OpNotNull matches rows where the column is non-NULL (Value ignored).
	OpNotNull
	// OpAbsent matches rows where the column is NULL (Value ignored).
	OpAbsent
	// OpLessThan matches rows where the column is less than Value, used for
	// age/deadline comparisons (e.g. acknowledged_at < cutoff).
	OpLessThan
)

// indexedColumns is the set of columns Query/indexFields recognize. Anything
// else is a caller error, not a silent no-op.
var indexedColumns = map[string]bool{
	"kind":            true,
	"status":          true,
	"parent_id":       true,
	"target_loop":     true,
	"acknowledged_at": true,
	"loop_id":         true,
	"tool_name":       true,
	"lane":            true,
	"event_type":      true,
	"updated_at":      true,
}

// Filter constrains a Query to rows whose indexed column Field satisfies Op
// against Value (spec.md §4.1's "rebuildable secondary index over
// {kind, status, parent_id, ...}").
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter { return Filter{Field: field, Op: OpEq, Value: value} }

// NotNull builds a non-null filter.
func NotNull(field string) Filter { return Filter{Field: field, Op: OpNotNull} }

// Absent builds a null filter.
func Absent(field string) Filter { return Filter{Field: field, Op: OpAbsent} }

// LessThan builds a less-than filter.
func LessThan(field string, value any) Filter { return Filter{Field: field, Op: OpLessThan, Value: value} }
