package main

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidServeMode = errors.New("invalid serve mode")

// ServeMode selects which surfaces a server instance exposes.
type ServeMode string

const (
	// ServeModeMonolith serves the dashboard and the proxies from one process.
	ServeModeMonolith ServeMode = "monolith"
	// ServeModeWeb serves the dashboard and static files; widgets reach the proxies through PUBLIC_BASE_URL.
	ServeModeWeb ServeMode = "web"
	// ServeModeAPI serves only the key, news and summary proxies.
	ServeModeAPI ServeMode = "api"
)

func ParseServeMode(rawInput string) (ServeMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return ServeModeMonolith, nil
	}

	mode := ServeMode(normalized)
	switch mode {
	case ServeModeMonolith, ServeModeWeb, ServeModeAPI:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidServeMode, rawInput)
	}
}

func (mode ServeMode) servesDashboard() bool {
	return mode != ServeModeAPI
}

func (mode ServeMode) servesProxies() bool {
	return mode != ServeModeWeb
}
