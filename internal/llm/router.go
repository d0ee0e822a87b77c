package llm

// Router selects a backend by model type. Unknown types fall back to the
// local backend.
type Router struct {
	backends map[string]Backend
	fallback Backend
}

// NewRouter creates a router over the given backends. The first backend is
// the fallback for unknown model types.
func NewRouter(backends ...Backend) *Router {
	r := &Router{backends: make(map[string]Backend)}
	for i, b := range backends {
		r.backends[b.Name()] = b
		if i == 0 {
			r.fallback = b
		}
	}
	return r
}

// Backend returns the backend for modelType, falling back to the default
// backend when the type is unknown.
func (r *Router) Backend(modelType string) Backend {
	if b, ok := r.backends[modelType]; ok {
		return b
	}
	return r.fallback
}
