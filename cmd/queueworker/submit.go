package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/johnwu5/idoit/chain"
	"github.com/johnwu5/idoit/config"
	"github.com/johnwu5/idoit/group"
	"github.com/johnwu5/idoit/internal/demoleaf"
	"github.com/johnwu5/idoit/iox"
	"github.com/johnwu5/idoit/metrics"
	"github.com/johnwu5/idoit/queue"
	"github.com/johnwu5/idoit/store"
	"github.com/johnwu5/idoit/task"
)

// node is the JSON description of one task in a submitted tree. Leaves
// (type "leaf") echo their args back as their result; this command exists
// to exercise composite construction and dispatch by hand, not to carry
// arbitrary leaf side effects.
type node struct {
	Type        string  `json:"type"` // "chain", "group", or "leaf"
	Pool        string  `json:"pool,omitempty"`
	RemoveDelay int64   `json:"remove_delay_ms,omitempty"`
	Args        []any   `json:"args,omitempty"`
	Children    []*node `json:"children,omitempty"`
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a chain/group/leaf tree from a JSON description, for manual testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to YAML config file"},
			&cli.StringFlag{Name: "store-url", Usage: "Redis connection URL (redis://host:port/db)"},
			&cli.StringFlag{Name: "store-prefix", Usage: "Key namespace prefix", Value: store.DefaultPrefix},
			&cli.StringFlag{Name: "pool", Usage: "Pool the root task is dispatched on", Value: "default"},
			&cli.StringFlag{Name: "json", Usage: "Task tree as inline JSON (mutually exclusive with --json-file)"},
			&cli.StringFlag{Name: "json-file", Usage: "Path to a file containing the task tree as JSON"},
			&cli.StringFlag{Name: "user-data-msgpack-file", Usage: "Path to a msgpack-encoded blob attached to the root task's user_data (a compact alternative to inlining it in --json)"},
		},
		Action: submitAction,
	}
}

func submitAction(c *cli.Context) error {
	cfg, err := loadOptionalConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	storeURL := resolveString(c, "store-url", configStoreVal(cfg, func(c *config.Config) string { return c.Store.URL }))
	if storeURL == "" {
		return cli.Exit("--store-url is required (provide via CLI flag or config file)", exitConfigError)
	}
	storePrefix := resolveString(c, "store-prefix", configStoreVal(cfg, func(c *config.Config) string { return c.Store.Prefix }))

	raw, err := readTreeJSON(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	var root node
	if err := json.Unmarshal(raw, &root); err != nil {
		return cli.Exit(fmt.Sprintf("invalid task tree JSON: %v", err), exitConfigError)
	}
	if root.Pool == "" {
		root.Pool = c.String("pool")
	}

	child, err := buildChild(&root)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid task tree: %v", err), exitConfigError)
	}

	if path := c.String("user-data-msgpack-file"); path != "" {
		ud, err := readMsgpackUserData(path)
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
		attachUserData(child, ud)
	}

	s, err := store.Dial(store.Config{URL: storeURL, Prefix: storePrefix})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to dial store: %v", err), exitStoreError)
	}
	defer iox.DiscardClose(s)

	q := queue.New(s, metrics.NewCollector(root.Pool))
	q.Extend(demoleaf.DispatchName, demoleaf.Handle)

	id, err := q.Submit(context.Background(), child)
	if err != nil {
		return cli.Exit(fmt.Sprintf("submit failed: %v", err), exitRuntimeError)
	}

	fmt.Fprintln(os.Stdout, id)
	return cli.Exit("", exitSuccess)
}

func readTreeJSON(c *cli.Context) ([]byte, error) {
	inline := c.String("json")
	path := c.String("json-file")
	if inline != "" && path != "" {
		return nil, fmt.Errorf("--json and --json-file are mutually exclusive")
	}
	if inline != "" {
		return []byte(inline), nil
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read task tree file %q: %w", path, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("one of --json or --json-file is required")
}

// readMsgpackUserData decodes a msgpack-encoded blob into a generic value
// suitable for WithUserData. msgpack is a more compact wire form than JSON
// for this boundary; the record itself still stores it JSON-encoded like
// every other field, per the store's uniform hash encoding.
func readMsgpackUserData(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read user-data msgpack file %q: %w", path, err)
	}
	var ud any
	if err := msgpack.Unmarshal(data, &ud); err != nil {
		return nil, fmt.Errorf("invalid msgpack in %q: %w", path, err)
	}
	return ud, nil
}

// attachUserData sets user data on the root child if it's a composite;
// leaves have no user-data slot of their own.
func attachUserData(child task.Child, ud any) {
	switch v := child.(type) {
	case *chain.Chain:
		v.WithUserData(ud)
	case *group.Group:
		v.WithUserData(ud)
	}
}

// buildChild recursively turns a node into the task.Child it describes.
func buildChild(n *node) (task.Child, error) {
	switch n.Type {
	case "leaf", "":
		return demoleaf.New(nil, n.Args...).WithPool(n.Pool).WithRemoveDelay(n.RemoveDelay), nil
	case "chain":
		children, err := buildChildren(n)
		if err != nil {
			return nil, err
		}
		return chain.New(children...).WithPool(n.Pool).WithRemoveDelay(n.RemoveDelay), nil
	case "group":
		children, err := buildChildren(n)
		if err != nil {
			return nil, err
		}
		return group.New(children...).WithPool(n.Pool).WithRemoveDelay(n.RemoveDelay), nil
	default:
		return nil, fmt.Errorf("unknown task type %q", n.Type)
	}
}

func buildChildren(n *node) ([]task.Child, error) {
	children := make([]task.Child, 0, len(n.Children))
	for i, cn := range n.Children {
		if cn.Pool == "" {
			cn.Pool = n.Pool
		}
		child, err := buildChild(cn)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		children = append(children, child)
	}
	return children, nil
}
