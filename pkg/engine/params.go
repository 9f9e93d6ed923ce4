package engine

// Param is a single named parameter value.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Params is an insertion-ordered mapping of parameter names to values.
// Rendering iterates in declaration order so that equal inputs always
// synthesize byte-identical manifests.
type Params struct {
	items []Param
	index map[string]int
}

// NewParams creates an ordered parameter set from the given pairs.
// A repeated name keeps its first position and takes the last value.
func NewParams(pairs ...Param) *Params {
	p := &Params{index: make(map[string]int, len(pairs))}
	for _, pair := range pairs {
		p.Set(pair.Name, pair.Value)
	}
	return p
}

// Set assigns value to name. Existing names are updated in place.
func (p *Params) Set(name string, value any) *Params {
	if p.index == nil {
		p.index = make(map[string]int)
	}
	if i, ok := p.index[name]; ok {
		p.items[i].Value = value
		return p
	}
	p.index[name] = len(p.items)
	p.items = append(p.items, Param{Name: name, Value: value})
	return p
}

// Get returns the value stored under name.
func (p *Params) Get(name string) (any, bool) {
	if p == nil {
		return nil, false
	}
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return p.items[i].Value, true
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

// Names returns parameter names in declaration order.
func (p *Params) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, len(p.items))
	for i, item := range p.items {
		names[i] = item.Name
	}
	return names
}

// Items returns a copy of the parameters in declaration order.
func (p *Params) Items() []Param {
	if p == nil {
		return nil
	}
	out := make([]Param, len(p.items))
	copy(out, p.items)
	return out
}
