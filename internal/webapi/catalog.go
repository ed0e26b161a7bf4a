package webapi

import (
	"fmt"
	"strings"
)

// node is a radix-tree node keyed by path segment, generalized from the
// teacher's flat-child-array router so it carries a *Descriptor instead of
// a bare closure.
type node struct {
	prefix []string // reserved for future param segments; unused for static paths
	seg    string
	ch     []*node
	desc   *Descriptor
}

// Catalog is the read-only (after Freeze) path -> descriptor mapping.
// Registration is single-threaded at startup; lookups afterward take no
// lock since nothing mutates the tree once frozen.
type Catalog struct {
	root   node
	frozen bool
	seen   map[string]bool
}

// NewCatalog builds an empty, mutable Catalog.
func NewCatalog() *Catalog {
	return &Catalog{seen: make(map[string]bool)}
}

// Register validates path, rejects duplicate registration, and inserts the
// descriptor into the tree. Per spec.md's "Open question: endpoint
// re-registration" decision, a duplicate path is a startup error, not a
// silent no-op.
func (c *Catalog) Register(d *Descriptor) error {
	if c.frozen {
		return fmt.Errorf("webapi: catalog is frozen, cannot register %q", d.Path)
	}
	if err := ValidatePath(d.Path); err != nil {
		return err
	}
	if c.seen[d.Path] {
		return fmt.Errorf("webapi: duplicate registration for path %q", d.Path)
	}
	c.seen[d.Path] = true

	segments := splitPath(d.Path)
	cur := &c.root
	for _, s := range segments {
		var next *node
		for _, child := range cur.ch {
			if child.seg == s {
				next = child
				break
			}
		}
		if next == nil {
			next = &node{seg: s}
			cur.ch = append(cur.ch, next)
		}
		cur = next
	}
	cur.desc = d
	return nil
}

// Freeze marks the catalog read-only; called once before the reactor
// starts serving.
func (c *Catalog) Freeze() {
	c.frozen = true
}

// Lookup returns the descriptor registered for path, if any.
func (c *Catalog) Lookup(path string) (*Descriptor, bool) {
	segments := splitPath(path)
	cur := &c.root
	for _, s := range segments {
		var next *node
		for _, child := range cur.ch {
			if child.seg == s {
				next = child
				break
			}
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	if cur.desc == nil {
		return nil, false
	}
	return cur.desc, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
