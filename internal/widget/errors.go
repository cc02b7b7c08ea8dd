package widget

import "errors"

const (
	errorMessageConfig       = "widget: invalid configuration"
	errorMessageCredential   = "widget: credential unavailable"
	errorMessageFetch        = "widget: fetch failed"
	errorMessageRenderModule = "widget: unsupported module type"
	errorMessageRender       = "widget: render failed"
)

var (
	// ErrConfig indicates a malformed or incomplete widget configuration. The widget aborts; siblings continue.
	ErrConfig = errors.New(errorMessageConfig)
	// ErrCredential indicates a credential label could not be resolved. The widget halts.
	ErrCredential = errors.New(errorMessageCredential)
	// ErrFetch indicates a network, HTTP status or JSON decoding failure. The cycle renders as empty data.
	ErrFetch = errors.New(errorMessageFetch)
	// ErrRenderModule indicates that no render function is registered for the declared type.
	ErrRenderModule = errors.New(errorMessageRenderModule)
	// ErrRender indicates that a render function returned an error or panicked.
	ErrRender = errors.New(errorMessageRender)
)
