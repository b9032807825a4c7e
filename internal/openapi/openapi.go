// Package openapi derives an OpenAPI 3.0.3 document from the registered
// route table for the public /docs endpoint.
package openapi

import (
	"strings"

	"github.com/zakyafrilliansyah/RequestTap-Router/internal/routes"
)

// Info describes the gateway instance in the emitted document.
type Info struct {
	Title   string
	Version string
	BaseURL string
}

// Build renders the document as a JSON-marshalable map. Path parameters
// in :name form are rewritten to OpenAPI {name} style.
func Build(info Info, rules []routes.Rule) map[string]any {
	paths := make(map[string]any)

	for _, rule := range rules {
		oaPath, params := convertPath(rule.Path)

		operation := map[string]any{
			"operationId": rule.ToolID,
			"summary":     rule.Description,
			"tags":        tagsFor(rule),
			"x-price-usd": rule.Price,
			"responses": map[string]any{
				"200": map[string]any{"description": "Upstream response with X-Receipt header"},
				"402": map[string]any{"description": "Payment required challenge"},
				"403": map[string]any{"description": "Mandate or blocklist denial"},
			},
		}
		if len(params) > 0 {
			specs := make([]any, len(params))
			for i, name := range params {
				specs[i] = map[string]any{
					"name":     name,
					"in":       "path",
					"required": true,
					"schema":   map[string]any{"type": "string"},
				}
			}
			operation["parameters"] = specs
		}

		item, ok := paths[oaPath].(map[string]any)
		if !ok {
			item = make(map[string]any)
			paths[oaPath] = item
		}
		item[strings.ToLower(rule.Method)] = operation
	}

	doc := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   info.Title,
			"version": info.Version,
		},
		"paths": paths,
	}
	if info.BaseURL != "" {
		doc["servers"] = []any{map[string]any{"url": info.BaseURL}}
	}
	return doc
}

func convertPath(path string) (string, []string) {
	segments := strings.Split(path, "/")
	var params []string
	for i, seg := range segments {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			segments[i] = "{" + name + "}"
			params = append(params, name)
		}
	}
	return strings.Join(segments, "/"), params
}

func tagsFor(rule routes.Rule) []string {
	if rule.Group != "" {
		return []string{rule.Group}
	}
	return []string{"default"}
}
