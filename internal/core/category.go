package core

import (
	"sort"
	"strings"
	"time"
)

type CategoryType string

const (
	CategoryExpense CategoryType = "expense"
	CategoryIncome  CategoryType = "income"
	CategoryAny     CategoryType = "any"
)

// DefaultCategoryName is the system category operations fall back to.
const DefaultCategoryName = "No category"

type Category struct {
	ID      string       `json:"_id"`
	User    string       `json:"-"`
	Name    string       `json:"name"`
	Type    CategoryType `json:"type"`
	Parent  string       `json:"parent,omitempty"`
	System  bool         `json:"system"`
	Created time.Time    `json:"created"`
	Updated time.Time    `json:"updated"`
}

// CategoryNode is a category with its children, used for tree responses.
type CategoryNode struct {
	Category
	Children []*CategoryNode `json:"children"`
}

func (t CategoryType) Valid() bool {
	return t == CategoryExpense || t == CategoryIncome || t == CategoryAny
}

// Accepts reports whether operations of type op may be filed under t.
func (t CategoryType) Accepts(op OperationType) bool {
	return t == CategoryAny || string(t) == string(op)
}

// AcceptsChild reports whether a category of type child may sit under t.
func (t CategoryType) AcceptsChild(child CategoryType) bool {
	return t == CategoryAny || t == child
}

func (c Category) Validate() error {
	if err := validateName(c.Name); err != nil {
		return err
	}
	if !c.Type.Valid() {
		return Invalid("type", ReasonInvalid)
	}
	return nil
}

// CategoryIndex is a lookup over one user's categories.
type CategoryIndex struct {
	byID     map[string]Category
	children map[string][]string
}

func NewCategoryIndex(categories []Category) *CategoryIndex {
	idx := &CategoryIndex{
		byID:     make(map[string]Category, len(categories)),
		children: make(map[string][]string),
	}
	for _, c := range categories {
		idx.byID[c.ID] = c
		idx.children[c.Parent] = append(idx.children[c.Parent], c.ID)
	}
	return idx
}

func (idx *CategoryIndex) Get(id string) (Category, bool) {
	c, ok := idx.byID[id]
	return c, ok
}

func (idx *CategoryIndex) HasChildren(id string) bool {
	return len(idx.children[id]) > 0
}

// Children returns the direct children of id.
func (idx *CategoryIndex) Children(id string) []Category {
	out := make([]Category, 0, len(idx.children[id]))
	for _, cid := range idx.children[id] {
		out = append(out, idx.byID[cid])
	}
	return out
}

// Descendants returns the ids of every category below id.
func (idx *CategoryIndex) Descendants(id string) map[string]bool {
	out := make(map[string]bool)
	stack := append([]string(nil), idx.children[id]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[cur] {
			continue
		}
		out[cur] = true
		stack = append(stack, idx.children[cur]...)
	}
	return out
}

// CheckPlacement validates putting category c (already carrying its new
// type and parent) into the tree. An empty parent means a root.
func (idx *CategoryIndex) CheckPlacement(c Category) error {
	if c.Parent == "" {
		return nil
	}
	parent, ok := idx.byID[c.Parent]
	if !ok {
		return NotFound("parent")
	}
	if c.ID != "" && (c.Parent == c.ID || idx.Descendants(c.ID)[c.Parent]) {
		return Invalid("parent", ReasonCycle)
	}
	if !parent.Type.AcceptsChild(c.Type) {
		return Invalid("parent", ReasonType)
	}
	return nil
}

// AvailableParents lists categories that may become the parent of id:
// not id itself, not one of its descendants, and type compatible.
func (idx *CategoryIndex) AvailableParents(id string, typ CategoryType) []Category {
	excluded := idx.Descendants(id)
	excluded[id] = true

	var out []Category
	for _, c := range idx.byID {
		if excluded[c.ID] || !c.Type.AcceptsChild(typ) {
			continue
		}
		out = append(out, c)
	}
	sortCategories(out)
	return out
}

// Tree builds the forest of categories, siblings ordered by name.
func (idx *CategoryIndex) Tree() []*CategoryNode {
	var build func(parent string) []*CategoryNode
	build = func(parent string) []*CategoryNode {
		kids := idx.Children(parent)
		sortCategories(kids)
		nodes := make([]*CategoryNode, 0, len(kids))
		for _, k := range kids {
			nodes = append(nodes, &CategoryNode{Category: k, Children: build(k.ID)})
		}
		return nodes
	}
	return build("")
}

func sortCategories(cs []Category) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].System != cs[j].System {
			return cs[i].System
		}
		return strings.ToLower(cs[i].Name) < strings.ToLower(cs[j].Name)
	})
}
