package edoc

import (
	"fmt"
	"strings"

	"github.com/andreyvit/edoc/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// projection is a compiled inclusion or exclusion projection. Dotted paths
// form a tree; a leaf selects the whole field.
type projection struct {
	include   bool
	excludeID bool
	root      *projNode
}

type projNode struct {
	children map[string]*projNode
}

func (n *projNode) leaf() bool {
	return n.children == nil
}

func compileProjection(spec any) (*projection, error) {
	raw, err := rawDoc(spec)
	if err != nil {
		return nil, err
	}
	elems, err := raw.Elements()
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, nil
	}

	p := &projection{root: &projNode{children: map[string]*projNode{}}}
	var mode int // 1 include, -1 exclude
	idSet, idOn := false, false
	for _, el := range elems {
		on, err := projectionFlag(el.Key(), el.Value())
		if err != nil {
			return nil, err
		}
		if el.Key() == idField {
			idSet, idOn = true, on
			continue
		}
		m := -1
		if on {
			m = 1
		}
		if mode != 0 && mode != m {
			return nil, fmt.Errorf("cannot mix inclusion and exclusion (at %s)", el.Key())
		}
		mode = m
		if err := p.root.add(strings.Split(el.Key(), ".")); err != nil {
			return nil, fmt.Errorf("%s: %w", el.Key(), err)
		}
	}
	switch mode {
	case 0:
		p.include = !idSet || idOn
	default:
		p.include = mode > 0
	}
	p.excludeID = idSet && !idOn
	return p, nil
}

func projectionFlag(key string, v bson.RawValue) (bool, error) {
	if v.Type == bson.TypeBoolean {
		return v.Boolean(), nil
	}
	if n, ok := query.IntValue(v); ok && (n == 0 || n == 1) {
		return n == 1, nil
	}
	return false, fmt.Errorf("%s: projection value must be 0, 1, true or false, got %v", key, v)
}

func (n *projNode) add(path []string) error {
	for i, part := range path {
		if part == "" {
			return fmt.Errorf("empty path component")
		}
		child := n.children[part]
		last := i == len(path)-1
		switch {
		case child == nil && last:
			n.children[part] = &projNode{}
			return nil
		case child == nil:
			child = &projNode{children: map[string]*projNode{}}
			n.children[part] = child
		case child.leaf() || last:
			return fmt.Errorf("path collision")
		}
		n = child
	}
	return nil
}

func (p *projection) apply(doc bson.Raw) (bson.Raw, error) {
	return p.applyDoc(make([]byte, 0, len(doc)), doc, p.root, true)
}

func (p *projection) applyDoc(dst []byte, doc bson.Raw, node *projNode, top bool) ([]byte, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}
	idx, dst := bsoncore.AppendDocumentStart(dst)
	for _, el := range elems {
		key := el.Key()
		if top && key == idField {
			if !p.excludeID {
				dst = append(dst, el...)
			}
			continue
		}
		child := node.children[key]
		switch {
		case child == nil:
			if !p.include {
				dst = append(dst, el...)
			}
		case child.leaf():
			if p.include {
				dst = append(dst, el...)
			}
		default:
			v := el.Value()
			if v.Type != bson.TypeEmbeddedDocument {
				if !p.include {
					dst = append(dst, el...)
				}
				continue
			}
			dst = bsoncore.AppendHeader(dst, bsontype.EmbeddedDocument, key)
			dst, err = p.applyDoc(dst, v.Document(), child, false)
			if err != nil {
				return nil, err
			}
		}
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}
