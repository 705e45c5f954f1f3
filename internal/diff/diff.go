// Package diff computes a bounded, value-free description of the structural
// differences between two snapshots.
//
// Only paths and change kinds are recorded, never the changed values, so the
// result can be kept in the audit log without leaking payload content.
package diff

import (
	"strconv"

	"github.com/iudanet/toolsync/internal/snapshot"
)

// Change kinds.
const (
	ChangeAdded          = "added"
	ChangeRemoved        = "removed"
	ChangeTypeChanged    = "type_changed"
	ChangeValueChanged   = "value_changed"
	ChangeLengthChanged  = "length_changed"
	ChangeListTruncated  = "list_truncated"
	ChangeDepthTruncated = "depth_truncated"
)

// Default limits.
const (
	DefaultMaxDiffs     = 200
	DefaultMaxDepth     = 8
	DefaultMaxListItems = 20
)

// Item is one structural change. Server and Client hold list lengths for
// length_changed items.
type Item struct {
	Server     *int   `json:"server,omitempty"`
	Client     *int   `json:"client,omitempty"`
	Path       string `json:"path"`
	Change     string `json:"change"`
	ServerType string `json:"server_type,omitempty"`
	ClientType string `json:"client_type,omitempty"`
}

// ToolDiff describes the difference for a single tool. A nil hash means the
// tool is absent on that side.
type ToolDiff struct {
	ServerHash *string `json:"server_hash"`
	ClientHash *string `json:"client_hash"`
	DiffItems  []Item  `json:"diff_items"`
	Same       bool    `json:"same"`
}

// Summary aggregates a Result.
type Summary struct {
	ChangedTools int  `json:"changed_tools"`
	DiffItems    int  `json:"diff_items"`
	Truncated    bool `json:"truncated"`
}

// Result is the outcome of Compute. When Summary.Truncated is set the item
// list is a lower bound and some tools may be missing from Tools.
type Result struct {
	Tools   map[string]ToolDiff `json:"tools"`
	Summary Summary             `json:"summary"`
}

type options struct {
	maxDiffs     int
	maxDepth     int
	maxListItems int
}

// Option configures Compute.
type Option func(*options)

// WithMaxDiffs sets the number of items shared by the whole call.
func WithMaxDiffs(n int) Option {
	return func(o *options) { o.maxDiffs = n }
}

// WithMaxDepth sets the depth at which comparison stops.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithMaxListItems sets how many leading list elements are compared.
func WithMaxListItems(n int) Option {
	return func(o *options) { o.maxListItems = n }
}

// budget is the item allowance shared across all tools of one call.
type budget struct {
	remaining int
	truncated bool
}

func (b *budget) take() bool {
	if b.remaining <= 0 {
		b.truncated = true
		return false
	}
	b.remaining--
	return true
}

type walker struct {
	budget       *budget
	out          []Item
	maxDepth     int
	maxListItems int
}

// Compute compares server with client tool by tool, in sorted tool id order.
// It never fails; oversized inputs are truncated instead.
func Compute(server, client snapshot.Snapshot, opts ...Option) Result {
	o := options{
		maxDiffs:     DefaultMaxDiffs,
		maxDepth:     DefaultMaxDepth,
		maxListItems: DefaultMaxListItems,
	}
	for _, opt := range opts {
		opt(&o)
	}

	b := &budget{remaining: o.maxDiffs}
	result := Result{Tools: make(map[string]ToolDiff)}

	for _, toolID := range toolIDs(server, client) {
		serverTool, serverOK := present(server, toolID)
		clientTool, clientOK := present(client, toolID)

		td := ToolDiff{DiffItems: []Item{}}
		if serverOK {
			h := snapshot.Hash(serverTool)
			td.ServerHash = &h
		}
		if clientOK {
			h := snapshot.Hash(clientTool)
			td.ClientHash = &h
		}
		td.Same = hashesEqual(td.ServerHash, td.ClientHash)

		if !td.Same {
			result.Summary.ChangedTools++
			w := &walker{budget: b, maxDepth: o.maxDepth, maxListItems: o.maxListItems}
			w.compare(serverTool, clientTool, "", 0)
			if w.out != nil {
				td.DiffItems = w.out
			}
		}
		result.Summary.DiffItems += len(td.DiffItems)
		result.Tools[toolID] = td

		if b.truncated {
			break
		}
	}

	result.Summary.Truncated = b.truncated
	return result
}

func (w *walker) emit(item Item) bool {
	if !w.budget.take() {
		return false
	}
	w.out = append(w.out, item)
	return true
}

func (w *walker) compare(a, b snapshot.Value, path string, depth int) {
	if w.budget.remaining == 0 {
		w.budget.truncated = true
		return
	}

	if depth >= w.maxDepth {
		if !snapshot.Equal(a, b) {
			w.emit(Item{Path: path, Change: ChangeDepthTruncated})
		}
		return
	}

	switch {
	case a.IsNull() && b.IsNull():
		return
	case a.IsNull():
		w.emit(Item{Path: path, Change: ChangeAdded})
		return
	case b.IsNull():
		w.emit(Item{Path: path, Change: ChangeRemoved})
		return
	}

	if a.TypeName() != b.TypeName() {
		w.emit(Item{
			Path:       path,
			Change:     ChangeTypeChanged,
			ServerType: a.TypeName(),
			ClientType: b.TypeName(),
		})
		return
	}

	switch a.Kind() {
	case snapshot.KindObject:
		w.compareObjects(a, b, path, depth)
	case snapshot.KindArray:
		w.compareArrays(a, b, path, depth)
	default:
		if !snapshot.Equal(a, b) {
			w.emit(Item{Path: path, Change: ChangeValueChanged})
		}
	}
}

func (w *walker) compareObjects(a, b snapshot.Value, path string, depth int) {
	af, bf := a.Fields(), b.Fields()

	for _, key := range snapshot.SortedKeys(af) {
		if _, ok := bf[key]; ok {
			continue
		}
		if !w.emit(Item{Path: join(path, key), Change: ChangeRemoved}) {
			return
		}
	}

	for _, key := range snapshot.SortedKeys(bf) {
		if _, ok := af[key]; ok {
			continue
		}
		if !w.emit(Item{Path: join(path, key), Change: ChangeAdded}) {
			return
		}
	}

	for _, key := range snapshot.SortedKeys(af) {
		bv, ok := bf[key]
		if !ok {
			continue
		}
		w.compare(af[key], bv, join(path, key), depth+1)
		if w.budget.truncated {
			return
		}
	}
}

func (w *walker) compareArrays(a, b snapshot.Value, path string, depth int) {
	ai, bi := a.Items(), b.Items()
	lenA, lenB := len(ai), len(bi)

	if lenA != lenB {
		w.emit(Item{
			Path:   join(path, "length"),
			Change: ChangeLengthChanged,
			Server: intPtr(lenA),
			Client: intPtr(lenB),
		})
	}

	compareLen := min(lenA, lenB, w.maxListItems)
	for i := 0; i < compareLen; i++ {
		w.compare(ai[i], bi[i], join(path, strconv.Itoa(i)), depth+1)
		if w.budget.truncated {
			return
		}
	}

	if (lenA > w.maxListItems || lenB > w.maxListItems) && !w.budget.truncated {
		w.emit(Item{Path: path, Change: ChangeListTruncated})
	}
}

func toolIDs(server, client snapshot.Snapshot) []string {
	all := make(map[string]snapshot.Value, len(server)+len(client))
	for id := range server {
		all[id] = snapshot.Value{}
	}
	for id := range client {
		all[id] = snapshot.Value{}
	}
	return snapshot.SortedKeys(all)
}

// present возвращает payload инструмента; null приравнивается к отсутствию.
func present(s snapshot.Snapshot, toolID string) (snapshot.Value, bool) {
	v, ok := s[toolID]
	if !ok || v.IsNull() {
		return snapshot.Value{}, false
	}
	return v, true
}

func hashesEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func intPtr(v int) *int { return &v }
