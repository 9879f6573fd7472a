package models

// Op kind constants. An Op is exactly one of these.
const (
	OpMove    = "move"
	OpInsert  = "insert"
	OpDelete  = "delete"
	OpReplace = "replace"
	OpUpdate  = "update"
)

// ScopeTrip and ScopeDay are the recognized change-set scopes.
const (
	ScopeTrip = "trip"
	ScopeDay  = "day"
)

// ChangeSet is the request envelope consumed by the change engine.
// It is created by agents or the chat router and discarded after apply
// or propose.
type ChangeSet struct {
	Scope       string      `json:"scope"` // "trip" or "day"
	Day         int         `json:"day,omitempty"`
	Ops         []Op        `json:"ops"`
	Preferences Preferences `json:"preferences,omitempty"`
}

// Preferences tunes how a change-set is applied.
type Preferences struct {
	UserFirst    bool `json:"user_first,omitempty"`
	AutoApply    bool `json:"auto_apply,omitempty"`
	RespectLocks bool `json:"respect_locks,omitempty"`
}

// Op is a single mutation. Kind selects which fields are meaningful:
//
//	move    {id, start_time, end_time?, day?}  retime within the day, or
//	        move to another day by giving a time on the target day
//	insert  {after?, day, node}                insert node; after places it
//	        immediately after that node id, else append
//	delete  {id}                               remove node, heal edges
//	replace {id, node}                         substitute content, keep id
//	update  {id, fields}                       merge partial field updates
type Op struct {
	Kind      string         `json:"op"`
	ID        string         `json:"id,omitempty"`
	Day       int            `json:"day,omitempty"`
	After     string         `json:"after,omitempty"`
	StartTime string         `json:"start_time,omitempty"`
	EndTime   string         `json:"end_time,omitempty"`
	Node      *Node          `json:"node,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Diff summarizes the effect of a change-set.
type Diff struct {
	Added   []DiffRef    `json:"added"`
	Removed []DiffRef    `json:"removed"`
	Updated []DiffUpdate `json:"updated"`
}

// DiffRef identifies a node added to or removed from a day.
type DiffRef struct {
	ID  string `json:"id"`
	Day int    `json:"day"`
}

// DiffUpdate identifies a node whose listed fields changed.
type DiffUpdate struct {
	ID     string   `json:"id"`
	Fields []string `json:"fields"`
}

// Empty reports whether the diff contains no entries.
func (d *Diff) Empty() bool {
	return d == nil || (len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0)
}
