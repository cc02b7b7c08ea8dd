package widget

import (
	"fmt"
	"html/template"
)

const (
	// LoadingMessage is shown until the first cycle completes.
	LoadingMessage = "Loading..."
	// NoDataMessage is shown when a cycle produced no data.
	NoDataMessage = "No data available."
	// RenderFailedMessage is shown when a render function fails.
	RenderFailedMessage = "Failed to render widget."
)

// Renderer owns one container for its lifetime.
type Renderer struct {
	container *Container
}

// NewRenderer resets the container to the loading state.
func NewRenderer(container *Container) *Renderer {
	container.SetHTML(template.HTML(LoadingMessage))
	return &Renderer{container: container}
}

func (renderer *Renderer) Container() *Container {
	return renderer.container
}

// Render replaces the container content. Nil data shows the no-data state without calling renderFunc.
// The render function writes into a staging container that is swapped in once it returns, so observers
// never see a half-built fragment. A render error or panic leaves the failure message in place.
func (renderer *Renderer) Render(data any, renderFunc RenderFunc, drawConfigs DrawConfigs) (renderErr error) {
	if data == nil {
		renderer.container.SetText(NoDataMessage)
		return nil
	}
	if renderFunc == nil {
		renderer.container.SetText(RenderFailedMessage)
		return fmt.Errorf("%w: nil render function", ErrRender)
	}
	if drawConfigs == nil {
		drawConfigs = DrawConfigs{}
	}

	staging := NewContainer(renderer.container.ID())
	defer func() {
		if recovered := recover(); recovered != nil {
			renderErr = fmt.Errorf("%w: panic: %v", ErrRender, recovered)
			renderer.container.SetText(RenderFailedMessage)
		}
	}()
	if callErr := renderFunc(staging, data, drawConfigs); callErr != nil {
		renderer.container.SetText(RenderFailedMessage)
		return fmt.Errorf("%w: %v", ErrRender, callErr)
	}
	renderer.container.SetHTML(staging.HTML())
	return nil
}

// ShowMessage replaces the content with an escaped message.
func (renderer *Renderer) ShowMessage(message string) {
	renderer.container.SetText(message)
}
