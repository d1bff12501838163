package store

import "encoding/json"

// State is the lifecycle state of a task: waiting -> idle -> finished,
// once each, no back-edges.
type State string

const (
	StateWaiting  State = "waiting"
	StateIdle     State = "idle"
	StateFinished State = "finished"
)

// Record is the persisted task record: a mapping from field name to
// JSON-encoded value, stored as one Redis hash per task under TaskKey(id).
type Record struct {
	State State `json:"state"`
	// Args is the ordered sequence of arguments a leaf consumes; for a
	// chain child, successive children's Args are extended with the
	// preceding child's result.
	Args []any `json:"args"`
	// Children is the ordered sequence of child TaskIDs (composite only).
	Children []string `json:"children,omitempty"`
	// ChildrenFinished is monotonically non-decreasing and never exceeds
	// len(Children).
	ChildrenFinished int `json:"children_finished"`
	// Total is the sum of children's Total (composite) or a leaf-defined
	// unit (leaf).
	Total int `json:"total"`
	// Progress is non-negative and <= Total.
	Progress int `json:"progress"`
	// Result is set on successful completion.
	Result any `json:"result,omitempty"`
	// Error is set on failed completion.
	Error any `json:"error,omitempty"`

	Pool        string `json:"pool"`
	Parent      string `json:"parent,omitempty"`
	ParentPool  string `json:"parent_pool,omitempty"`
	ParentUID   string `json:"parent_uid,omitempty"`
	RemoveDelay int64  `json:"removeDelay"`
	Name        string `json:"name,omitempty"`
	UID         string `json:"uid"`
	UserData    any    `json:"user_data,omitempty"`
}

// HasParent reports whether this record has a parent to report to.
func (r *Record) HasParent() bool { return r.Parent != "" }

// hashFields is the fixed set of hash field names a Record round-trips
// through. Each value in the Redis hash is the JSON encoding of the
// corresponding Go field.
var hashFields = []string{
	"state", "args", "children", "children_finished", "total", "progress",
	"result", "error", "pool", "parent", "parent_pool", "parent_uid",
	"removeDelay", "name", "uid", "user_data",
}

// toHash encodes the record as a Redis hash (field -> JSON-encoded value).
// Optional fields that are absent (nil Result/Error/UserData, empty
// Children, empty Parent linkage) are omitted from the hash entirely so
// GetTask round-trips them back to nil/"" rather than JSON "null".
func (r *Record) toHash() (map[string]any, error) {
	h := make(map[string]any, len(hashFields))

	set := func(field string, v any) error {
		enc, err := json.Marshal(v)
		if err != nil {
			return err
		}
		h[field] = string(enc)
		return nil
	}

	if err := set("state", r.State); err != nil {
		return nil, err
	}
	args := r.Args
	if args == nil {
		args = []any{}
	}
	if err := set("args", args); err != nil {
		return nil, err
	}
	if len(r.Children) > 0 {
		if err := set("children", r.Children); err != nil {
			return nil, err
		}
	}
	if err := set("children_finished", r.ChildrenFinished); err != nil {
		return nil, err
	}
	if err := set("total", r.Total); err != nil {
		return nil, err
	}
	if err := set("progress", r.Progress); err != nil {
		return nil, err
	}
	if r.Result != nil {
		if err := set("result", r.Result); err != nil {
			return nil, err
		}
	}
	if r.Error != nil {
		if err := set("error", r.Error); err != nil {
			return nil, err
		}
	}
	if err := set("pool", r.Pool); err != nil {
		return nil, err
	}
	if r.Parent != "" {
		if err := set("parent", r.Parent); err != nil {
			return nil, err
		}
		if err := set("parent_pool", r.ParentPool); err != nil {
			return nil, err
		}
		if err := set("parent_uid", r.ParentUID); err != nil {
			return nil, err
		}
	}
	if err := set("removeDelay", r.RemoveDelay); err != nil {
		return nil, err
	}
	if r.Name != "" {
		if err := set("name", r.Name); err != nil {
			return nil, err
		}
	}
	if err := set("uid", r.UID); err != nil {
		return nil, err
	}
	if r.UserData != nil {
		if err := set("user_data", r.UserData); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// recordFromHash decodes a Redis hash (field -> JSON-encoded value) back
// into a Record. An empty hash means the task does not exist; callers
// should check len(hash) == 0 before calling this.
func recordFromHash(hash map[string]string) (*Record, error) {
	r := &Record{}

	get := func(field string, dst any) error {
		raw, ok := hash[field]
		if !ok || raw == "" {
			return nil
		}
		return json.Unmarshal([]byte(raw), dst)
	}

	if err := get("state", &r.State); err != nil {
		return nil, err
	}
	if err := get("args", &r.Args); err != nil {
		return nil, err
	}
	if err := get("children", &r.Children); err != nil {
		return nil, err
	}
	if err := get("children_finished", &r.ChildrenFinished); err != nil {
		return nil, err
	}
	if err := get("total", &r.Total); err != nil {
		return nil, err
	}
	if err := get("progress", &r.Progress); err != nil {
		return nil, err
	}
	if err := get("result", &r.Result); err != nil {
		return nil, err
	}
	if err := get("error", &r.Error); err != nil {
		return nil, err
	}
	if err := get("pool", &r.Pool); err != nil {
		return nil, err
	}
	if err := get("parent", &r.Parent); err != nil {
		return nil, err
	}
	if err := get("parent_pool", &r.ParentPool); err != nil {
		return nil, err
	}
	if err := get("parent_uid", &r.ParentUID); err != nil {
		return nil, err
	}
	if err := get("removeDelay", &r.RemoveDelay); err != nil {
		return nil, err
	}
	if err := get("name", &r.Name); err != nil {
		return nil, err
	}
	if err := get("uid", &r.UID); err != nil {
		return nil, err
	}
	if err := get("user_data", &r.UserData); err != nil {
		return nil, err
	}
	return r, nil
}
