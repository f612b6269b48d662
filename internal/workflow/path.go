package workflow

import "fmt"

// Group is a set of stage names executed concurrently.
type Group []string

// Path is an ordered list of stage groups; groups execute sequentially.
// Paths are acyclic and finite by construction, and a stage name appears in
// exactly one group per path.
type Path struct {
	Groups []Group
}

// StageNames returns every stage name in the path, in group order.
func (p Path) StageNames() []string {
	var names []string
	for _, group := range p.Groups {
		names = append(names, group...)
	}
	return names
}

// Contains reports whether the path references the given stage.
func (p Path) Contains(name string) bool {
	for _, group := range p.Groups {
		for _, n := range group {
			if n == name {
				return true
			}
		}
	}
	return false
}

// Validate checks a path against the registry: every referenced stage must
// exist, no stage may appear twice, groups must be non-empty, and the
// declared output keys of all stages on the path must be disjoint. Key
// ownership is checked across the whole path, not per group, because merged
// state never permits a rewrite: two stages sharing a key would fail every
// request at merge time. A violation is a configuration error surfaced at
// startup, not at request time.
func (p Path) Validate(registry *Registry) error {
	if len(p.Groups) == 0 {
		return fmt.Errorf("path has no stage groups")
	}

	seen := make(map[string]int)
	keyOwner := make(map[string]string)
	for gi, group := range p.Groups {
		if len(group) == 0 {
			return fmt.Errorf("group %d is empty", gi)
		}

		for _, name := range group {
			stage, ok := registry.Get(name)
			if !ok {
				return fmt.Errorf("group %d references unknown stage %q", gi, name)
			}
			if prev, dup := seen[name]; dup {
				return fmt.Errorf("stage %q appears in groups %d and %d", name, prev, gi)
			}
			seen[name] = gi

			for _, key := range stage.OutputKeys() {
				if owner, taken := keyOwner[key]; taken {
					return fmt.Errorf("stages %q and %q both write key %q", owner, name, key)
				}
				keyOwner[key] = name
			}
		}
	}
	return nil
}
