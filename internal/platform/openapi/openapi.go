// Package openapi renders an OpenAPI 3.0 document for the routes registered
// on an echo server.
package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// Generator builds the document from the router at request time, so routes
// added after construction are included.
type Generator struct {
	e         *echo.Echo
	title     string
	version   string
	prefix    string
	summaries map[string]string
}

// NewGenerator documents the routes of e whose path starts with prefix.
func NewGenerator(e *echo.Echo, title, version, prefix string) *Generator {
	return &Generator{e: e, title: title, version: version, prefix: prefix, summaries: make(map[string]string)}
}

// Describe attaches a summary to one operation, e.g.
// Describe("GET", "/api/v1/doctors/:id", "Get a doctor").
func (g *Generator) Describe(method, path, summary string) {
	g.summaries[method+" "+path] = summary
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	routes := g.e.Routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]interface{})
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, g.prefix) || strings.HasSuffix(r.Path, "*") || r.Method == echo.RouteNotFound {
			continue
		}
		path, params := convertPath(r.Path)
		item, _ := paths[path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[path] = item
		}
		item[strings.ToLower(r.Method)] = g.operation(r, params)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"paths": paths,
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"message": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
		"security": []map[string]interface{}{{"bearerAuth": []string{}}},
	}
}

func (g *Generator) operation(r *echo.Route, params []string) map[string]interface{} {
	op := map[string]interface{}{
		"operationId": operationID(r.Method, r.Path),
		"responses": map[string]interface{}{
			"200": map[string]interface{}{"description": "Success"},
			"default": map[string]interface{}{
				"description": "Error",
				"content": map[string]interface{}{
					"application/json": map[string]interface{}{
						"schema": map[string]interface{}{"$ref": "#/components/schemas/Error"},
					},
				},
			},
		},
	}
	if s, ok := g.summaries[r.Method+" "+r.Path]; ok {
		op["summary"] = s
	}
	if len(params) > 0 {
		ps := make([]map[string]interface{}, 0, len(params))
		for _, p := range params {
			ps = append(ps, map[string]interface{}{
				"name":     p,
				"in":       "path",
				"required": true,
				"schema":   map[string]interface{}{"type": "string"},
			})
		}
		op["parameters"] = ps
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		op["requestBody"] = map[string]interface{}{
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]interface{}{"type": "object"},
				},
			},
		}
	}
	return op
}

// convertPath turns "/doctors/:id/schedule" into "/doctors/{id}/schedule"
// and returns the parameter names.
func convertPath(p string) (string, []string) {
	segs := strings.Split(p, "/")
	var params []string
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			params = append(params, s[1:])
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/"), params
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, s := range strings.Split(path, "/") {
		s = strings.TrimPrefix(s, ":")
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' }) {
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	return b.String()
}

// Handler serves the document as JSON.
func (g *Generator) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	}
}
