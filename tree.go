package permission

import (
	"sort"
	"strings"
)

// ============================================================================
// HIERARCHY TREE
// ============================================================================

// TreeNode is one display row of the hierarchy forest. An entity with
// several parents appears once under each of them; Required then carries
// the ancestors every instance chain must name, so a UI can tell mandatory
// mounts from optional ones.
type TreeNode struct {
	Entity   *Entity
	Required []string
	Children []*TreeNode
}

// BuildTree turns a registry into its display forest: parentless entities
// first, children of each node sorted by level then name.
func BuildTree(r *Registry) []*TreeNode {
	roots := make([]*TreeNode, 0, 4)
	for _, ent := range r.Entities() {
		if len(ent.Parents()) == 0 {
			roots = append(roots, buildTreeNode(ent))
		}
	}
	sortTreeNodes(roots)
	return roots
}

func buildTreeNode(ent *Entity) *TreeNode {
	node := &TreeNode{Entity: ent}
	if len(ent.Parents()) > 1 {
		req := ent.RequiredAncestors()
		node.Required = make([]string, 0, len(req))
		for _, a := range req {
			node.Required = append(node.Required, a.Name)
		}
		sort.Strings(node.Required)
	}
	for _, child := range ent.Children() {
		node.Children = append(node.Children, buildTreeNode(child))
	}
	sortTreeNodes(node.Children)
	return node
}

func sortTreeNodes(nodes []*TreeNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Entity.Level() != nodes[j].Entity.Level() {
			return nodes[i].Entity.Level() < nodes[j].Entity.Level()
		}
		return nodes[i].Entity.Name < nodes[j].Entity.Name
	})
}

// RenderTree renders the forest as indented text, two spaces per depth.
// Contexts list their roles; multi-parent entities list their required
// ancestors.
func RenderTree(nodes []*TreeNode) string {
	var b strings.Builder
	for _, node := range nodes {
		renderTreeNode(&b, node, 0)
	}
	return b.String()
}

func renderTreeNode(b *strings.Builder, node *TreeNode, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
	b.WriteString(node.Entity.Name)
	if node.Entity.IsProduct() {
		b.WriteString(" (product)")
	} else {
		b.WriteString(" (context)")
		roles := node.Entity.Roles()
		if len(roles) > 0 {
			b.WriteString(" roles: ")
			for i, r := range roles {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(r.Name)
			}
		}
	}
	if len(node.Required) > 0 {
		b.WriteString(" [requires: ")
		b.WriteString(strings.Join(node.Required, ", "))
		b.WriteString("]")
	}
	b.WriteByte('\n')
	for _, child := range node.Children {
		renderTreeNode(b, child, depth+1)
	}
}
