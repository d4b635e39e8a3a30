// Package docs holds the generated OpenAPI document served at /swagger.
// Regenerate with: swag init -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/bookings": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["bookings"],
                "summary": "Create a booking",
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Conflict"},
                    "422": {"description": "Invalid window"}
                }
            }
        },
        "/api/bookings/{id}": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["bookings"],
                "summary": "Cancel a booking",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/resources": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["resources"],
                "summary": "Register a resource",
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/api/resources/{id}/availability": {
            "get": {
                "produces": ["application/json"],
                "tags": ["resources"],
                "summary": "Query free sub-intervals of a resource",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/sweep": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["escalations"],
                "summary": "Run one escalation sweep",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/work-items": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["work-items"],
                "summary": "Create a maintenance work item",
                "responses": {
                    "201": {"description": "Created"},
                    "404": {"description": "Policy missing"}
                }
            }
        },
        "/api/work-items/{id}/priority": {
            "patch": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["work-items"],
                "summary": "Change work item priority",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Stale state"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Facility Scheduling API",
	Description:      "Resource booking and SLA escalation core for facility operations.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
