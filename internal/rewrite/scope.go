package rewrite

// scope holds the WITH names bound by one statement level. Lookups walk
// outward through parent scopes; bindings never propagate outward.
type scope struct {
	parent *scope
	names  map[string]struct{}
}

func (s *scope) child() *scope {
	return &scope{parent: s, names: make(map[string]struct{})}
}

func (s *scope) bind(name string) {
	s.names[name] = struct{}{}
}

func (s *scope) bound(name string) bool {
	for c := s; c != nil; c = c.parent {
		if _, ok := c.names[name]; ok {
			return true
		}
	}
	return false
}
