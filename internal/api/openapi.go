package api

import (
	"net/http"
	"regexp"
	"strings"
)

var pathParam = regexp.MustCompile(`\{([^}]+)\}`)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the admin routes.
func buildOpenAPIDoc(routes []route) map[string]any {
	paths := map[string]any{}

	for _, rt := range routes {
		full := "/api" + rt.path
		item, _ := paths[full].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[full] = item
		}

		operation := map[string]any{
			"operationId": operationID(rt),
			"summary":     rt.summary,
			"tags":        []string{tagFor(rt.path)},
			"responses":   responsesFor(rt.method),
			"security":    []any{map[string]any{"BearerAuth": []string{rt.scope}}},
		}
		if params := pathParams(rt.path); len(params) > 0 {
			operation["parameters"] = params
		}
		if rt.method == http.MethodPost || rt.method == http.MethodPut {
			operation["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{"schema": map[string]any{"type": "object"}},
				},
			}
		}
		item[strings.ToLower(rt.method)] = operation
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Policy Orchestrator",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func operationID(rt route) string {
	clean := pathParam.ReplaceAllString(rt.path, "by_$1")
	clean = strings.Trim(strings.ReplaceAll(clean, "/", "_"), "_")
	return strings.ToLower(rt.method) + "_" + clean
}

func tagFor(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	return parts[0]
}

func pathParams(path string) []any {
	var out []any
	for _, m := range pathParam.FindAllStringSubmatch(path, -1) {
		out = append(out, map[string]any{
			"name":     m[1],
			"in":       "path",
			"required": true,
			"schema":   map[string]any{"type": "string"},
		})
	}
	return out
}

func responsesFor(method string) map[string]any {
	out := map[string]any{
		"400": map[string]any{"description": "Bad request"},
		"401": map[string]any{"description": "Missing or invalid token"},
		"403": map[string]any{"description": "Insufficient scope"},
		"500": map[string]any{"description": "Classified server failure"},
	}
	switch method {
	case http.MethodPost:
		out["200"] = map[string]any{"description": "OK"}
		out["201"] = map[string]any{"description": "Created"}
	case http.MethodPut, http.MethodDelete:
		out["204"] = map[string]any{"description": "No content"}
		out["404"] = map[string]any{"description": "Not found"}
	default:
		out["200"] = map[string]any{"description": "OK"}
	}
	return out
}

// handleOpenAPI handles GET /api/openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(adminRoutes))
}
