package widget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	attributeConfig     = "data-config"
	attributeID         = "id"
	generatedIDTemplate = "widget-%d"
)

// WidgetStatus is a point-in-time view of one widget.
type WidgetStatus struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	State   WidgetState `json:"state"`
	Version uint64      `json:"version"`
	Error   string      `json:"error,omitempty"`
}

// Dashboard is one bootstrapped page: the parsed document and a controller per configured element.
type Dashboard struct {
	logger      *zap.Logger
	renderMutex sync.Mutex
	document    *html.Node
	controllers []*Controller
	byID        map[string]*Controller
	elements    map[string]*html.Node
}

// Bootstrap parses a page and creates a controller for every element that carries a data-config attribute.
func Bootstrap(page io.Reader, environment Environment) (*Dashboard, error) {
	document, parseErr := html.Parse(page)
	if parseErr != nil {
		return nil, fmt.Errorf("parse dashboard page: %w", parseErr)
	}
	return NewDashboard(document, environment), nil
}

// NewDashboard binds controllers to an already parsed document. A failure while constructing one
// controller is logged and does not prevent the others from being created.
func NewDashboard(document *html.Node, environment Environment) *Dashboard {
	environment = environment.withDefaults()
	dashboard := &Dashboard{
		logger:   environment.Logger,
		document: document,
		byID:     make(map[string]*Controller),
		elements: make(map[string]*html.Node),
	}

	usedIDs := collectIDs(document)
	generated := 0
	for _, element := range ConfiguredElements(document) {
		widgetID := attributeValue(element, attributeID)
		if widgetID == "" || dashboard.byID[widgetID] != nil {
			for {
				generated++
				widgetID = fmt.Sprintf(generatedIDTemplate, generated)
				if _, taken := usedIDs[widgetID]; !taken {
					break
				}
			}
			usedIDs[widgetID] = struct{}{}
			setAttribute(element, attributeID, widgetID)
		}

		controller, constructErr := constructController(widgetID, attributeValue(element, attributeConfig), environment)
		if constructErr != nil {
			dashboard.logger.Error("widget_construct_failed", zap.String("widget_id", widgetID), zap.Error(constructErr))
			continue
		}
		dashboard.controllers = append(dashboard.controllers, controller)
		dashboard.byID[widgetID] = controller
		dashboard.elements[widgetID] = element
	}
	return dashboard
}

func constructController(widgetID string, rawConfig string, environment Environment) (controller *Controller, constructErr error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			controller = nil
			constructErr = fmt.Errorf("construct widget %s: %v", widgetID, recovered)
		}
	}()
	return NewController(widgetID, rawConfig, NewContainer(widgetID), environment), nil
}

// ConfiguredElements returns the elements carrying a data-config attribute in document order.
func ConfiguredElements(document *html.Node) []*html.Node {
	var elements []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && hasAttribute(node, attributeConfig) {
			elements = append(elements, node)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	if document != nil {
		walk(document)
	}
	return elements
}

// Start launches every controller independently.
func (dashboard *Dashboard) Start(ctx context.Context) {
	for _, controller := range dashboard.controllers {
		controller.Start(ctx)
	}
}

// Stop cancels every controller and waits for them.
func (dashboard *Dashboard) Stop() {
	var waitGroup sync.WaitGroup
	for _, controller := range dashboard.controllers {
		waitGroup.Add(1)
		go func(controller *Controller) {
			defer waitGroup.Done()
			controller.Stop()
		}(controller)
	}
	waitGroup.Wait()
}

// Widget looks up a controller by its element id.
func (dashboard *Dashboard) Widget(widgetID string) (*Controller, bool) {
	controller, found := dashboard.byID[widgetID]
	return controller, found
}

// Controllers returns the controllers in document order.
func (dashboard *Dashboard) Controllers() []*Controller {
	return append([]*Controller(nil), dashboard.controllers...)
}

// Widgets returns a status snapshot in document order.
func (dashboard *Dashboard) Widgets() []WidgetStatus {
	statuses := make([]WidgetStatus, 0, len(dashboard.controllers))
	for _, controller := range dashboard.controllers {
		configuration, _ := controller.Config()
		status := WidgetStatus{
			ID:      controller.ID(),
			Type:    configuration.Type,
			State:   controller.State(),
			Version: controller.Container().Version(),
		}
		if failure := controller.Err(); failure != nil {
			status.Error = failure.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Observe registers an observer on every widget container.
func (dashboard *Dashboard) Observe(observer func(ContainerUpdate)) {
	for _, controller := range dashboard.controllers {
		controller.Container().Observe(observer)
	}
}

// Render writes the document with every widget element holding its current fragment.
func (dashboard *Dashboard) Render(writer io.Writer) error {
	if dashboard.document == nil {
		return errors.New("dashboard has no document")
	}
	dashboard.renderMutex.Lock()
	defer dashboard.renderMutex.Unlock()
	for widgetID, element := range dashboard.elements {
		for element.FirstChild != nil {
			element.RemoveChild(element.FirstChild)
		}
		element.AppendChild(&html.Node{Type: html.RawNode, Data: string(dashboard.byID[widgetID].Container().HTML())})
	}
	return html.Render(writer, dashboard.document)
}

// Document exposes the parsed page for callers that need to amend it before rendering.
// Callers must not modify it concurrently with Render.
func (dashboard *Dashboard) Document() *html.Node {
	return dashboard.document
}

func collectIDs(document *html.Node) map[string]struct{} {
	identifiers := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if identifier := attributeValue(node, attributeID); identifier != "" {
				identifiers[identifier] = struct{}{}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	if document != nil {
		walk(document)
	}
	return identifiers
}

func hasAttribute(node *html.Node, key string) bool {
	for _, attribute := range node.Attr {
		if attribute.Key == key {
			return true
		}
	}
	return false
}

func attributeValue(node *html.Node, key string) string {
	for _, attribute := range node.Attr {
		if attribute.Key == key {
			return attribute.Val
		}
	}
	return ""
}

func setAttribute(node *html.Node, key string, value string) {
	for index := range node.Attr {
		if node.Attr[index].Key == key {
			node.Attr[index].Val = value
			return
		}
	}
	node.Attr = append(node.Attr, html.Attribute{Key: key, Val: value})
}
