package storage

// Overlay buffers writes and deletes on top of a base store so a whole
// operation can be committed or discarded as a unit. Reads observe the
// buffered state first, then fall through to the base.
type Overlay struct {
	base    KV
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay wraps the base store with an empty write buffer.
func NewOverlay(base KV) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		return nil, ErrNotFound
	}
	if value, ok := o.writes[k]; ok {
		out := make([]byte, len(value))
		copy(out, value)
		return out, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		return false, nil
	}
	if _, ok := o.writes[k]; ok {
		return true, nil
	}
	return o.base.Has(key)
}

func (o *Overlay) Put(key []byte, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	stored := make([]byte, len(value))
	copy(stored, value)
	o.writes[k] = stored
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Commit flushes the buffered mutations to the base store.
func (o *Overlay) Commit() error {
	for k, v := range o.writes {
		if err := o.base.Put([]byte(k), v); err != nil {
			return err
		}
	}
	for k := range o.deletes {
		if err := o.base.Delete([]byte(k)); err != nil {
			return err
		}
	}
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
	return nil
}

// Discard drops the buffered mutations without touching the base store.
func (o *Overlay) Discard() {
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
}
