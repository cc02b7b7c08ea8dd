package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/MarkoPoloResearchLab/infoboard/internal/modules"
	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	defaultPagePath      = "public/index.html"
	formatText           = "text"
	formatYAML           = "yaml"
	flagNamePage         = "page"
	flagNameFormat       = "format"
	refreshOnce          = "once"
	auditPassedMessage   = "widget-audit OK"
	auditFailedMessage   = "widget-audit failed"
	attributeID          = "id"
	capabilityPrefix     = "#"
	urlParameterTemplate = "$%s"
)

var (
	errAuditFailed       = errors.New("widget_audit_failed")
	errUnsupportedFormat = errors.New("unsupported format")
	localHosts           = map[string]struct{}{"localhost": {}, "127.0.0.1": {}, "::1": {}}
	knownCapabilities    = map[string]struct{}{
		widget.CapabilityLatitude:  {},
		widget.CapabilityLongitude: {},
		widget.CapabilityAPIKey:    {},
	}
)

type widgetReport struct {
	ID              string   `yaml:"id"`
	Type            string   `yaml:"type,omitempty"`
	APIURL          string   `yaml:"apiUrl,omitempty"`
	CredentialLabel string   `yaml:"credentialLabel,omitempty"`
	RefreshInterval string   `yaml:"refreshInterval,omitempty"`
	Placeholders    []string `yaml:"placeholders,omitempty"`
	Errors          []string `yaml:"errors,omitempty"`
	Warnings        []string `yaml:"warnings,omitempty"`
}

func (report *widgetReport) addError(message string, arguments ...any) {
	report.Errors = append(report.Errors, fmt.Sprintf(message, arguments...))
}

func (report *widgetReport) addWarning(message string, arguments ...any) {
	report.Warnings = append(report.Warnings, fmt.Sprintf(message, arguments...))
}

type auditReport struct {
	Page             string         `yaml:"page"`
	Widgets          []widgetReport `yaml:"widgets"`
	CredentialLabels []string       `yaml:"credentialLabels,omitempty"`
	Errors           []string       `yaml:"errors,omitempty"`
}

func (report auditReport) ok() bool {
	if len(report.Errors) > 0 {
		return false
	}
	for _, widgetResult := range report.Widgets {
		if len(widgetResult.Errors) > 0 {
			return false
		}
	}
	return true
}

func main() {
	if executeErr := newAuditCommand().Execute(); executeErr != nil {
		os.Exit(1)
	}
}

func newAuditCommand() *cobra.Command {
	var pagePath string
	var format string
	command := &cobra.Command{
		Use:           "widgetaudit",
		Short:         "Validate the widget declarations of a dashboard page",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			if format != formatText && format != formatYAML {
				return fmt.Errorf("%w: %s", errUnsupportedFormat, format)
			}
			registry := widget.NewModuleRegistry()
			if registerErr := modules.Register(registry); registerErr != nil {
				return registerErr
			}

			report := auditPageFile(pagePath, registry)
			if writeErr := writeReport(command.OutOrStdout(), report, format); writeErr != nil {
				return writeErr
			}
			if !report.ok() {
				_, _ = fmt.Fprintln(command.ErrOrStderr(), auditFailedMessage)
				return errAuditFailed
			}
			if format == formatText {
				_, _ = fmt.Fprintln(command.OutOrStdout(), auditPassedMessage)
			}
			return nil
		},
	}
	command.Flags().StringVar(&pagePath, flagNamePage, defaultPagePath, "dashboard page to audit")
	command.Flags().StringVar(&format, flagNameFormat, formatText, "report format: text or yaml")
	return command
}

func auditPageFile(pagePath string, registry *widget.ModuleRegistry) auditReport {
	pageFile, openErr := os.Open(pagePath)
	if openErr != nil {
		return auditReport{Page: pagePath, Errors: []string{fmt.Sprintf("read page %s: %v", pagePath, openErr)}}
	}
	defer func() { _ = pageFile.Close() }()
	return auditPage(pagePath, pageFile, registry)
}

// auditPage binds the page the way the server does, so generated ids match the live dashboard.
func auditPage(pageName string, page io.Reader, registry *widget.ModuleRegistry) auditReport {
	report := auditReport{Page: pageName}

	document, parseErr := html.Parse(page)
	if parseErr != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("parse page %s: %v", pageName, parseErr))
		return report
	}
	elements := widget.ConfiguredElements(document)
	declaredIDs := make([]string, 0, len(elements))
	for _, element := range elements {
		declaredIDs = append(declaredIDs, attributeValue(element, attributeID))
	}

	dashboard := widget.NewDashboard(document, widget.Environment{Registry: registry, Logger: zap.NewNop()})
	controllers := dashboard.Controllers()
	if len(controllers) == 0 {
		report.Errors = append(report.Errors, "no widgets declared")
		return report
	}

	labels := make(map[string]struct{})
	for index, controller := range controllers {
		widgetResult := auditWidget(controller, registry)
		if index < len(declaredIDs) && declaredIDs[index] != "" && declaredIDs[index] != controller.ID() {
			widgetResult.addWarning("duplicate id %s renamed to %s", declaredIDs[index], controller.ID())
		}
		if widgetResult.CredentialLabel != "" {
			labels[widgetResult.CredentialLabel] = struct{}{}
		}
		report.Widgets = append(report.Widgets, widgetResult)
	}
	report.CredentialLabels = sortedKeys(labels)
	return report
}

func auditWidget(controller *widget.Controller, registry *widget.ModuleRegistry) widgetReport {
	widgetResult := widgetReport{ID: controller.ID()}
	configuration, configErr := controller.Config()
	if configErr != nil {
		widgetResult.addError("%v", configErr)
		return widgetResult
	}

	widgetResult.Type = configuration.Type
	widgetResult.APIURL = configuration.APIURL
	widgetResult.RefreshInterval = refreshOnce
	if interval := configuration.Interval(); interval > 0 {
		widgetResult.RefreshInterval = interval.String()
	}

	if _, registered := registry.Lookup(configuration.Type); !registered {
		widgetResult.addError("unsupported module type: %s", configuration.Type)
	}

	if configuration.APIKey != "" && configuration.APIKeyLabel != "" {
		widgetResult.addWarning("apiKey overrides apiKeyLabel %s", configuration.APIKeyLabel)
	}
	if configuration.NeedsCredentialLookup() {
		widgetResult.CredentialLabel = configuration.APIKeyLabel
	}

	if targetURL, parseErr := url.Parse(configuration.APIURL); parseErr != nil {
		widgetResult.addError("apiUrl %s: %v", configuration.APIURL, parseErr)
	} else if _, local := localHosts[targetURL.Hostname()]; local && targetURL.IsAbs() {
		widgetResult.addWarning("apiUrl %s points at the local host", configuration.APIURL)
	}

	for parameterName, tokens := range configuration.Tokens() {
		for _, token := range tokens {
			widgetResult.Placeholders = append(widgetResult.Placeholders, describeToken(parameterName, token))
			if token.Kind != widget.TokenCapability {
				continue
			}
			if _, known := knownCapabilities[token.Name]; !known {
				widgetResult.addError("parameter %s references unknown capability %s%s", parameterName, capabilityPrefix, token.Name)
				continue
			}
			if token.Name == widget.CapabilityAPIKey && configuration.APIKey == "" && configuration.APIKeyLabel == "" {
				widgetResult.addWarning("parameter %s uses %s%s but the widget declares no apiKey or apiKeyLabel", parameterName, capabilityPrefix, token.Name)
			}
		}
	}
	sort.Strings(widgetResult.Placeholders)
	sort.Strings(widgetResult.Errors)
	sort.Strings(widgetResult.Warnings)
	return widgetResult
}

func describeToken(parameterName string, token widget.Token) string {
	switch token.Kind {
	case widget.TokenURLParameter:
		reference := fmt.Sprintf(urlParameterTemplate, token.Name)
		if token.Default != "" {
			reference += "[" + token.Default + "]"
		}
		return parameterName + "=" + reference
	default:
		return parameterName + "=" + capabilityPrefix + token.Name
	}
}

func writeReport(writer io.Writer, report auditReport, format string) error {
	if format == formatYAML {
		encoder := yaml.NewEncoder(writer)
		encoder.SetIndent(2)
		if encodeErr := encoder.Encode(report); encodeErr != nil {
			return encodeErr
		}
		return encoder.Close()
	}

	var builder strings.Builder
	for _, errorMessage := range report.Errors {
		fmt.Fprintf(&builder, "ERROR: %s\n", errorMessage)
	}
	for _, widgetResult := range report.Widgets {
		fmt.Fprintf(&builder, "widget %s", widgetResult.ID)
		if widgetResult.Type != "" {
			fmt.Fprintf(&builder, " (%s, refresh %s)", widgetResult.Type, widgetResult.RefreshInterval)
		}
		builder.WriteString("\n")
		if widgetResult.APIURL != "" {
			fmt.Fprintf(&builder, "  url: %s\n", widgetResult.APIURL)
		}
		if widgetResult.CredentialLabel != "" {
			fmt.Fprintf(&builder, "  credential: %s\n", widgetResult.CredentialLabel)
		}
		for _, placeholder := range widgetResult.Placeholders {
			fmt.Fprintf(&builder, "  placeholder: %s\n", placeholder)
		}
		for _, warning := range widgetResult.Warnings {
			fmt.Fprintf(&builder, "  WARN: %s\n", warning)
		}
		for _, errorMessage := range widgetResult.Errors {
			fmt.Fprintf(&builder, "  ERROR: %s\n", errorMessage)
		}
	}
	if len(report.CredentialLabels) > 0 {
		fmt.Fprintf(&builder, "credential labels: %s\n", strings.Join(report.CredentialLabels, ", "))
	}
	_, writeErr := io.WriteString(writer, builder.String())
	return writeErr
}

func attributeValue(node *html.Node, key string) string {
	for _, attribute := range node.Attr {
		if attribute.Key == key {
			return strings.TrimSpace(attribute.Val)
		}
	}
	return ""
}

func sortedKeys(values map[string]struct{}) []string {
	keys := make([]string, 0, len(values))
	for value := range values {
		keys = append(keys, value)
	}
	sort.Strings(keys)
	return keys
}
