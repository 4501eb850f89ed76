package vdom

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

// tnode is a generator model for random live-region renders.
type tnode struct {
	tag      string
	id       string
	class    string
	text     string
	children []*tnode
}

func (n *tnode) clone() *tnode {
	c := *n
	c.children = make([]*tnode, len(n.children))
	for i, ch := range n.children {
		c.children[i] = ch.clone()
	}
	return &c
}

func (n *tnode) render(b *strings.Builder) {
	b.WriteString("<" + n.tag)
	if n.id != "" {
		fmt.Fprintf(b, ` id="%s"`, n.id)
	}
	if n.class != "" {
		fmt.Fprintf(b, ` class="%s"`, n.class)
	}
	b.WriteString(">")
	b.WriteString(n.text)
	for _, c := range n.children {
		b.WriteString("\n  ")
		c.render(b)
	}
	b.WriteString("</" + n.tag + ">")
}

func renderForest(nodes []*tnode) string {
	var b strings.Builder
	for _, n := range nodes {
		n.render(&b)
		b.WriteString("\n")
	}
	return b.String()
}

type gen struct {
	r      *rand.Rand
	nextID int
}

var genTags = []string{"div", "section", "ul", "p", "span", "article"}

func (g *gen) id() string {
	if g.r.Intn(4) == 0 {
		return ""
	}
	g.nextID++
	return fmt.Sprintf("n%d", g.nextID)
}

func (g *gen) node(depth int) *tnode {
	n := &tnode{
		tag: genTags[g.r.Intn(len(genTags))],
		id:  g.id(),
	}
	if g.r.Intn(3) > 0 {
		n.text = fmt.Sprintf("t%d", g.r.Intn(5))
	}
	if depth > 0 {
		for i := g.r.Intn(4); i > 0; i-- {
			n.children = append(n.children, g.node(depth-1))
		}
	}
	return n
}

// all returns every node of the forest in document order.
func all(nodes []*tnode, out []*tnode) []*tnode {
	for _, n := range nodes {
		out = append(out, n)
		out = all(n.children, out)
	}
	return out
}

// mutate applies a few random edits to a copy of the forest.
func (g *gen) mutate(forest []*tnode) []*tnode {
	out := make([]*tnode, len(forest))
	for i, n := range forest {
		out[i] = n.clone()
	}

	for edits := 1 + g.r.Intn(3); edits > 0; edits-- {
		nodes := all(out, nil)
		if len(nodes) == 0 {
			return out
		}
		target := nodes[g.r.Intn(len(nodes))]
		switch g.r.Intn(6) {
		case 0:
			target.text = fmt.Sprintf("t%d", g.r.Intn(5))
		case 1:
			target.class = fmt.Sprintf("c%d", g.r.Intn(3))
		case 2:
			target.children = append(target.children, g.node(1))
		case 3:
			if len(target.children) > 0 {
				i := g.r.Intn(len(target.children))
				target.children = append(target.children[:i], target.children[i+1:]...)
			}
		case 4:
			if len(target.children) > 1 {
				i, j := g.r.Intn(len(target.children)), g.r.Intn(len(target.children))
				target.children[i], target.children[j] = target.children[j], target.children[i]
			}
		case 5:
			if len(target.children) > 0 {
				i := g.r.Intn(len(target.children))
				rest := append([]*tnode{g.node(1)}, target.children[i+1:]...)
				target.children = append(target.children[:i+1], rest...)
			}
		}
	}
	return out
}

func TestPatchEquivalenceProperty(t *testing.T) {
	g := &gen{r: rand.New(rand.NewSource(20261018))}

	for i := 0; i < 500; i++ {
		prevForest := []*tnode{g.node(3)}
		if g.r.Intn(3) == 0 {
			prevForest = append(prevForest, g.node(2))
		}

		var nextForest []*tnode
		if g.r.Intn(10) == 0 {
			nextForest = []*tnode{g.node(3)}
		} else {
			nextForest = g.mutate(prevForest)
		}

		prev := renderForest(prevForest)
		next := renderForest(nextForest)

		patches := Diff(prev, next)
		got, err := Apply(prev, patches, DefaultIDAttr)
		if err != nil {
			t.Fatalf("case %d: Apply() error = %v\nprev: %s\nnext: %s\npatches: %v", i, err, prev, next, patches)
		}
		if !Equivalent(got, next) {
			t.Fatalf("case %d: result not equivalent\nprev: %s\nnext: %s\ngot:  %s\npatches: %v", i, prev, next, got, patches)
		}
	}
}

func TestPatchSequenceIsIncremental(t *testing.T) {
	// Repeated diffs against the last applied result stay in sync.
	g := &gen{r: rand.New(rand.NewSource(7))}
	forest := []*tnode{g.node(3)}
	client := renderForest(forest)
	server := client

	for i := 0; i < 100; i++ {
		forest = g.mutate(forest)
		next := renderForest(forest)

		patches := Diff(server, next)
		var err error
		client, err = Apply(client, patches, DefaultIDAttr)
		if err != nil {
			t.Fatalf("step %d: Apply() error = %v", i, err)
		}
		server = next

		if !Equivalent(client, server) {
			t.Fatalf("step %d: client drifted\nclient: %s\nserver: %s", i, client, server)
		}
	}
}
