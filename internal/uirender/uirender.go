// Package uirender maps artifact types to embedded tool UIs. It is off
// the critical execution path: an unmatched artifact simply has no UI
// resource.
package uirender

import (
	"sync"

	"github.com/loomhq/loom/internal/a2a"
)

// DefaultCSP is the strict default policy for embedded tool UIs.
// Renderers may relax it deliberately.
const DefaultCSP = "default-src 'none'; script-src 'self'; style-src 'self'; img-src 'self' data:"

// UIResource is a rendered embedded UI for one artifact.
type UIResource struct {
	HTML string
	CSP  string
}

// Renderer produces a UI resource for an artifact, or nil when the
// artifact carries nothing renderable.
type Renderer interface {
	Render(artifact a2a.Artifact) *UIResource
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(artifact a2a.Artifact) *UIResource

func (f RendererFunc) Render(artifact a2a.Artifact) *UIResource { return f(artifact) }

// Registry maps artifact types to renderers. Registration happens at
// startup; rendering is concurrent.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]Renderer
}

func NewRegistry() *Registry {
	return &Registry{renderers: make(map[string]Renderer)}
}

func (r *Registry) Register(artifactType string, renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[artifactType] = renderer
}

// Render returns the UI resource for an artifact, or nil when no
// renderer matches its type. A renderer returning a resource without a
// CSP gets the strict default.
func (r *Registry) Render(artifact a2a.Artifact) *UIResource {
	r.mu.RLock()
	renderer, ok := r.renderers[artifact.Metadata.ArtifactType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	res := renderer.Render(artifact)
	if res == nil {
		return nil
	}
	if res.CSP == "" {
		res.CSP = DefaultCSP
	}
	return res
}
