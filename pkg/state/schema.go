package state

import (
	"fmt"
	"sort"
	"strings"
)

// RootPath is the path of the tree's root node.
const RootPath = "root"

// FieldSpec declares a single var on a node.
type FieldSpec struct {
	Name    string
	Kind    Kind
	Default any // nil means the kind's zero value
}

// View is the read access given to compute functions. Get resolves a field
// (var or computed) on the current node; At navigates to another node by
// absolute path.
type View interface {
	Get(field string) any
	At(path string) View
}

// ComputeFunc derives a computed field's value from other fields.
// It must be pure and must return a wire-safe value.
type ComputeFunc func(v View) any

// ComputedSpec declares a derived field on a node.
//
// Deps lists the inputs that invalidate the memoized value: a bare name
// refers to a field on the same node, a dotted name ("root.profile.name")
// to a field on another node. Reads of undeclared inputs do not trigger
// recomputation.
type ComputedSpec struct {
	Name    string
	Deps    []string
	Compute ComputeFunc
}

// NodeSpec declares the shape of one node: its vars, computed vars, and
// named child nodes.
type NodeSpec struct {
	Fields   []FieldSpec
	Computed []ComputedSpec
	Children map[string]*NodeSpec
}

// Schema is the validated, immutable description of a session's state tree.
// It is built once at startup and injected at session creation; there is no
// process-wide registry of node classes.
type Schema struct {
	specs map[string]*NodeSpec // path -> spec, for every node in the tree

	// revDeps maps "path.field" to the computed fields that depend on it.
	revDeps map[string][]computedRef
}

// computedRef identifies one computed field in the tree.
type computedRef struct {
	nodePath string
	name     string
}

// NewSchema validates the node tree rooted at spec and returns a Schema.
// Validation covers field naming, default/kind agreement, dependency
// resolution, and acyclicity of the computed dependency graph; a cycle
// fails here with a *DependencyCycleError, never at evaluation time.
func NewSchema(root *NodeSpec) (*Schema, error) {
	if root == nil {
		return nil, fmt.Errorf("state: nil root spec")
	}

	s := &Schema{
		specs:   make(map[string]*NodeSpec),
		revDeps: make(map[string][]computedRef),
	}

	if err := s.collect(RootPath, root); err != nil {
		return nil, err
	}
	if err := s.resolveDeps(); err != nil {
		return nil, err
	}
	if err := s.checkCycles(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for statically
// declared schemas in application startup code.
func MustSchema(root *NodeSpec) *Schema {
	s, err := NewSchema(root)
	if err != nil {
		panic(err)
	}
	return s
}

// Paths returns every node path in the schema, sorted.
func (s *Schema) Paths() []string {
	paths := make([]string, 0, len(s.specs))
	for p := range s.specs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Spec returns the node spec at path, or nil if the path is not declared.
func (s *Schema) Spec(path string) *NodeSpec {
	return s.specs[path]
}

// collect walks the NodeSpec tree, registering each node under its dotted path.
func (s *Schema) collect(path string, spec *NodeSpec) error {
	s.specs[path] = spec

	seen := make(map[string]struct{}, len(spec.Fields)+len(spec.Computed))

	for _, f := range spec.Fields {
		if err := validName(f.Name); err != nil {
			return fmt.Errorf("state: node %s: %w", path, err)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("state: node %s: duplicate field %q", path, f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Default != nil {
			if _, ok := f.Kind.normalize(f.Default); !ok {
				return &TypeMismatchError{Path: path, Field: f.Name, Kind: f.Kind, Value: f.Default}
			}
		}
	}

	for _, c := range spec.Computed {
		if err := validName(c.Name); err != nil {
			return fmt.Errorf("state: node %s: %w", path, err)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("state: node %s: duplicate field %q", path, c.Name)
		}
		seen[c.Name] = struct{}{}

		if c.Compute == nil {
			return fmt.Errorf("state: node %s: computed %q has no compute function", path, c.Name)
		}
	}

	for name, child := range spec.Children {
		if err := validName(name); err != nil {
			return fmt.Errorf("state: node %s: %w", path, err)
		}
		if child == nil {
			return fmt.Errorf("state: node %s: nil child spec %q", path, name)
		}
		if err := s.collect(path+"."+name, child); err != nil {
			return err
		}
	}
	return nil
}

// resolveDeps checks that every declared dependency exists and builds the
// reverse dependency index used for invalidation.
func (s *Schema) resolveDeps() error {
	for path, spec := range s.specs {
		for _, c := range spec.Computed {
			for _, dep := range c.Deps {
				depPath, depField, err := s.resolveDep(path, dep)
				if err != nil {
					return fmt.Errorf("state: node %s: computed %q: %w", path, c.Name, err)
				}
				key := depPath + "." + depField
				s.revDeps[key] = append(s.revDeps[key], computedRef{nodePath: path, name: c.Name})
			}
		}
	}
	return nil
}

// resolveDep maps a dependency declaration to (nodePath, fieldName).
// A bare name refers to the declaring node; a dotted name is an absolute
// path whose last segment is the field.
func (s *Schema) resolveDep(fromPath, dep string) (string, string, error) {
	nodePath, field := fromPath, dep
	if i := strings.LastIndex(dep, "."); i >= 0 {
		nodePath, field = dep[:i], dep[i+1:]
	}

	spec, ok := s.specs[nodePath]
	if !ok {
		return "", "", fmt.Errorf("dependency %q: no node at %q", dep, nodePath)
	}
	if !spec.hasField(field) {
		return "", "", fmt.Errorf("dependency %q: no field %q on node %q", dep, field, nodePath)
	}
	return nodePath, field, nil
}

// checkCycles runs a depth-first search over the computed dependency graph.
// Vertices are "path.field" names; edges run from a computed field to each
// of its dependencies.
func (s *Schema) checkCycles() error {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int)

	// Deterministic iteration keeps error messages stable.
	paths := s.Paths()

	var visit func(path string, c *ComputedSpec, trail []string) *DependencyCycleError
	visit = func(path string, c *ComputedSpec, trail []string) *DependencyCycleError {
		key := path + "." + c.Name
		color[key] = gray
		trail = append(trail, key)

		for _, dep := range c.Deps {
			depPath, depField, _ := s.resolveDep(path, dep) // validated in resolveDeps
			depKey := depPath + "." + depField

			depComputed := s.specs[depPath].computed(depField)
			if depComputed == nil {
				continue // plain var, cannot extend a cycle
			}

			switch color[depKey] {
			case gray:
				// Close the loop at the first occurrence of depKey.
				start := 0
				for i, v := range trail {
					if v == depKey {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, trail[start:]...), depKey)
				return &DependencyCycleError{Cycle: cycle}
			case white:
				if err := visit(depPath, depComputed, trail); err != nil {
					return err
				}
			}
		}

		color[key] = black
		return nil
	}

	for _, path := range paths {
		spec := s.specs[path]
		for i := range spec.Computed {
			c := &spec.Computed[i]
			if color[path+"."+c.Name] == white {
				if err := visit(path, c, nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// hasField reports whether name is a var or computed field on this spec.
func (ns *NodeSpec) hasField(name string) bool {
	for _, f := range ns.Fields {
		if f.Name == name {
			return true
		}
	}
	return ns.computed(name) != nil
}

// computed returns the computed spec with the given name, or nil.
func (ns *NodeSpec) computed(name string) *ComputedSpec {
	for i := range ns.Computed {
		if ns.Computed[i].Name == name {
			return &ns.Computed[i]
		}
	}
	return nil
}

// field returns the field spec with the given name, or nil.
func (ns *NodeSpec) field(name string) *FieldSpec {
	for i := range ns.Fields {
		if ns.Fields[i].Name == name {
			return &ns.Fields[i]
		}
	}
	return nil
}

// validName rejects empty names and names containing the path separator.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("name %q contains %q", name, ".")
	}
	return nil
}
