package stitch

import "sync/atomic"

// Registry hands out fresh instance IDs. Every call to Next returns a
// value strictly greater than all previously issued IDs, so no ID is ever
// reused within one run. Each single-axis stitcher owns its own registry;
// IDs only become globally unique during the final fusion relabeling, so
// the parallel stitching stage never contends on a shared counter.
type Registry struct {
	last atomic.Uint32
}

// NewRegistry creates a registry whose first issued ID is start+1.
func NewRegistry(start uint32) *Registry {
	r := &Registry{}
	r.last.Store(start)
	return r
}

// Next returns a fresh instance ID.
func (r *Registry) Next() uint32 {
	return r.last.Add(1)
}

// Last returns the highest ID issued so far, or the start value if none.
func (r *Registry) Last() uint32 {
	return r.last.Load()
}

// Reset rewinds the registry to the given start value. Only meant to be
// called once, before a pipeline run begins.
func (r *Registry) Reset(start uint32) {
	r.last.Store(start)
}
