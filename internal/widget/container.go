package widget

import (
	"html/template"
	"sync"
)

// ContainerUpdate describes a container's content after a change.
type ContainerUpdate struct {
	ID      string
	HTML    template.HTML
	Version uint64
}

// Container holds the HTML fragment shown inside one dashboard element.
type Container struct {
	id string

	mutex     sync.RWMutex
	content   template.HTML
	version   uint64
	observers []func(ContainerUpdate)
}

// NewContainer returns an empty container.
func NewContainer(id string) *Container {
	return &Container{id: id}
}

func (container *Container) ID() string {
	return container.id
}

// HTML returns the current fragment.
func (container *Container) HTML() template.HTML {
	container.mutex.RLock()
	defer container.mutex.RUnlock()
	return container.content
}

// Version increases with every change.
func (container *Container) Version() uint64 {
	container.mutex.RLock()
	defer container.mutex.RUnlock()
	return container.version
}

// Observe registers a callback invoked after every change, outside the container lock.
func (container *Container) Observe(observer func(ContainerUpdate)) {
	if observer == nil {
		return
	}
	container.mutex.Lock()
	container.observers = append(container.observers, observer)
	container.mutex.Unlock()
}

// Clear removes all content.
func (container *Container) Clear() {
	container.SetHTML("")
}

// SetHTML replaces the content with trusted markup.
func (container *Container) SetHTML(markup template.HTML) {
	container.update(func(current template.HTML) template.HTML {
		return markup
	})
}

// SetText replaces the content with escaped text wrapped in a paragraph.
func (container *Container) SetText(text string) {
	container.SetHTML(paragraph(text))
}

// AppendHTML adds trusted markup after the current content.
func (container *Container) AppendHTML(markup template.HTML) {
	container.update(func(current template.HTML) template.HTML {
		return current + markup
	})
}

func (container *Container) update(mutate func(template.HTML) template.HTML) {
	container.mutex.Lock()
	container.content = mutate(container.content)
	container.version++
	change := ContainerUpdate{ID: container.id, HTML: container.content, Version: container.version}
	observers := append([]func(ContainerUpdate){}, container.observers...)
	container.mutex.Unlock()

	for _, observer := range observers {
		observer(change)
	}
}

func paragraph(text string) template.HTML {
	return template.HTML("<p>" + template.HTMLEscapeString(text) + "</p>")
}
