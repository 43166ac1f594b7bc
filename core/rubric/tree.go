package rubric

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Hierarchy is the flat content of a Template as stored: every level of its rubric, unsorted.
type Hierarchy struct {
	Template      Template
	Categories    []Category
	Subcategories []Subcategory
	Items         []Item
	Options       []Option
}

type (
	// Tree is a fully loaded Template with every level sorted by order, then by creation (ids are time ordered).
	Tree struct {
		Template   Template       `json:"template"`
		Categories []CategoryNode `json:"categories"`
	}

	CategoryNode struct {
		Category
		Subcategories []SubcategoryNode `json:"subcategories"`
	}

	SubcategoryNode struct {
		Subcategory
		Items []ItemNode `json:"items"`
	}

	ItemNode struct {
		Item
		Options []Option `json:"options"`
	}
)

// BuildTree nests and sorts the flat Hierarchy. Records pointing to a missing parent are dropped.
func BuildTree(h Hierarchy) Tree {
	opts := make(map[string][]Option)
	for _, o := range h.Options {
		opts[o.ItemID] = append(opts[o.ItemID], o)
	}
	items := make(map[string][]ItemNode)
	for _, it := range h.Items {
		itOpts := opts[it.ID]
		sort.SliceStable(itOpts, func(i, j int) bool { return itOpts[i].ID < itOpts[j].ID })
		items[it.SubcategoryID] = append(items[it.SubcategoryID], ItemNode{Item: it, Options: itOpts})
	}
	subs := make(map[string][]SubcategoryNode)
	for _, sc := range h.Subcategories {
		scItems := items[sc.ID]
		sort.SliceStable(scItems, func(i, j int) bool {
			return less(scItems[i].Order, scItems[j].Order, scItems[i].ID, scItems[j].ID)
		})
		subs[sc.CategoryID] = append(subs[sc.CategoryID], SubcategoryNode{Subcategory: sc, Items: scItems})
	}

	tree := Tree{Template: h.Template, Categories: make([]CategoryNode, 0, len(h.Categories))}
	for _, c := range h.Categories {
		if c.TemplateID != h.Template.ID {
			continue
		}
		cSubs := subs[c.ID]
		sort.SliceStable(cSubs, func(i, j int) bool {
			return less(cSubs[i].Order, cSubs[j].Order, cSubs[i].ID, cSubs[j].ID)
		})
		tree.Categories = append(tree.Categories, CategoryNode{Category: c, Subcategories: cSubs})
	}
	sort.SliceStable(tree.Categories, func(i, j int) bool {
		ci, cj := tree.Categories[i], tree.Categories[j]
		return less(ci.Order, cj.Order, ci.ID, cj.ID)
	})
	return tree
}

func less(orderI, orderJ int, idI, idJ string) bool {
	if orderI != orderJ {
		return orderI < orderJ
	}
	return idI < idJ
}

// Items returns every item of the tree in display order.
func (t Tree) Items() []ItemNode {
	var items []ItemNode
	for _, c := range t.Categories {
		for _, sc := range c.Subcategories {
			items = append(items, sc.Items...)
		}
	}
	return items
}

// Item finds an item of the tree by id.
func (t Tree) Item(id string) (ItemNode, bool) {
	for _, it := range t.Items() {
		if it.ID == id {
			return it, true
		}
	}
	return ItemNode{}, false
}

// MaxPossibleScore is the sum of the max score of every item of the tree, zero when it has none.
func (t Tree) MaxPossibleScore() decimal.Decimal {
	total := decimal.Zero
	for _, it := range t.Items() {
		total = total.Add(it.MaxScore)
	}
	return total
}

// Option finds one of the item's options by id.
func (it ItemNode) Option(id string) (Option, bool) {
	for _, o := range it.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// MaxFromOptions returns the highest option score. ok is false when there are no options.
func MaxFromOptions(opts []Option) (max decimal.Decimal, ok bool) {
	for i, o := range opts {
		if i == 0 || o.Score.GreaterThan(max) {
			max = o.Score
		}
	}
	return max, len(opts) > 0
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
