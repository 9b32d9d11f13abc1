package accounting

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Tree is the in-memory chart of accounts: a flat arena of nodes indexed by
// account ID, with code and child indexes. It carries structure only;
// balances live in the repository cache.
type Tree struct {
	mu       sync.RWMutex
	nodes    []Account
	index    map[int64]int
	byCode   map[string]int64
	children map[int64][]int64
}

// NewTree builds a tree from accounts ordered parents-first.
func NewTree(accounts []Account) (*Tree, error) {
	t := &Tree{
		index:    make(map[int64]int, len(accounts)),
		byCode:   make(map[string]int64, len(accounts)),
		children: make(map[int64][]int64),
	}
	for _, acc := range accounts {
		if err := t.insert(acc); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) insert(acc Account) error {
	if _, ok := t.index[acc.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrDuplicateCode, acc.ID)
	}
	if _, ok := t.byCode[acc.Code]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, acc.Code)
	}
	if acc.ParentID != nil {
		if _, ok := t.index[*acc.ParentID]; !ok {
			return fmt.Errorf("%w: parent %d not loaded before %s", ErrInvalidParent, *acc.ParentID, acc.Code)
		}
		t.children[*acc.ParentID] = append(t.children[*acc.ParentID], acc.ID)
	}
	t.index[acc.ID] = len(t.nodes)
	t.byCode[acc.Code] = acc.ID
	t.nodes = append(t.nodes, acc)
	return nil
}

// Add inserts a node whose parent is already present.
func (t *Tree) Add(acc Account) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insert(acc)
}

func (t *Tree) node(id int64) (Account, bool) {
	i, ok := t.index[id]
	if !ok {
		return Account{}, false
	}
	acc := t.nodes[i]
	acc.IsLeaf = len(t.children[id]) == 0
	return acc, true
}

// Get returns the account with id.
func (t *Tree) Get(id int64) (Account, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.node(id)
}

// ByCode returns the account with code.
func (t *Tree) ByCode(code string) (Account, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byCode[strings.TrimSpace(code)]
	if !ok {
		return Account{}, false
	}
	return t.node(id)
}

// List returns every account ordered by code.
func (t *Tree) List(includeArchived bool) []Account {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Account, 0, len(t.nodes))
	for _, n := range t.nodes {
		if n.Archived && !includeArchived {
			continue
		}
		acc, _ := t.node(n.ID)
		out = append(out, acc)
	}
	slices.SortFunc(out, func(a, b Account) int { return strings.Compare(a.Code, b.Code) })
	return out
}

// Ancestors returns the chain of parent IDs from the direct parent to the root.
func (t *Tree) Ancestors(id int64) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ancestors(id)
}

func (t *Tree) ancestors(id int64) []int64 {
	var out []int64
	i, ok := t.index[id]
	for ok && t.nodes[i].ParentID != nil {
		parent := *t.nodes[i].ParentID
		out = append(out, parent)
		i, ok = t.index[parent]
	}
	return out
}

// LeafDescendants returns the leaf IDs under id, or id itself when it is a leaf.
func (t *Tree) LeafDescendants(id int64) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []int64
	stack := []int64{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		kids := t.children[cur]
		if len(kids) == 0 {
			out = append(out, cur)
			continue
		}
		stack = append(stack, kids...)
	}
	slices.Sort(out)
	return out
}

// ActiveChildren reports whether id has a non-archived child.
func (t *Tree) ActiveChildren(id int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, child := range t.children[id] {
		if i, ok := t.index[child]; ok && !t.nodes[i].Archived {
			return true
		}
	}
	return false
}

// SetArchived flips the archived flag.
func (t *Tree) SetArchived(id int64, archived bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.index[id]; ok {
		t.nodes[i].Archived = archived
	}
}

// IsAncestor reports whether candidate is id or one of its ancestors.
func (t *Tree) IsAncestor(candidate, id int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if candidate == id {
		return true
	}
	return slices.Contains(t.ancestors(id), candidate)
}

// Move reparents id. Callers validate the move first.
func (t *Tree) Move(id int64, parentID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return
	}
	if old := t.nodes[i].ParentID; old != nil {
		t.children[*old] = slices.DeleteFunc(t.children[*old], func(c int64) bool { return c == id })
		if len(t.children[*old]) == 0 {
			delete(t.children, *old)
		}
	}
	p := parentID
	t.nodes[i].ParentID = &p
	t.children[parentID] = append(t.children[parentID], id)
}

// RollUp expands per-leaf nets into per-account nets including every ancestor.
func (t *Tree) RollUp(leafNets map[int64]Amount) (map[int64]Amount, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int64]Amount, len(t.nodes))
	for id, net := range leafNets {
		for _, target := range append([]int64{id}, t.ancestors(id)...) {
			sum, err := AddAmounts(out[target], net)
			if err != nil {
				return nil, err
			}
			out[target] = sum
		}
	}
	return out, nil
}
