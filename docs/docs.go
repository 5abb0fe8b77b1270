// Package docs registers the OpenAPI document served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/db": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["gateway"],
                "summary": "Read a table",
                "parameters": [
                    {"type": "string", "description": "teams, players, events or user_roles", "name": "table", "in": "query", "required": true},
                    {"type": "string", "description": "filter user_roles by email", "name": "email", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["gateway"],
                "summary": "Run a gateway action",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request"},
                    "403": {"description": "Forbidden"},
                    "404": {"description": "Not Found"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/api/session": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Register the login of the current user",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/events/{eventID}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["events"],
                "summary": "Get one event",
                "parameters": [{"type": "string", "description": "event id", "name": "eventID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/events/{eventID}/responses": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["events"],
                "summary": "Answer a convocation",
                "parameters": [{"type": "string", "description": "event id", "name": "eventID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}
            }
        },
        "/api/invite-user": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["invitations"],
                "summary": "Invite a user",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "503": {"description": "Service Unavailable"}}
            }
        },
        "/api/privacy/age-verification": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["privacy"],
                "summary": "Check the age of a registering user",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/privacy/parental-consents": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["privacy"],
                "summary": "Record a parental consent for the current (minor) user",
                "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}
            }
        },
        "/api/privacy/parental-consents/{consentID}/confirm": {
            "get": {
                "produces": ["application/json"],
                "tags": ["privacy"],
                "summary": "Confirm a parental consent from the emailed link",
                "parameters": [
                    {"type": "string", "description": "consent id", "name": "consentID", "in": "path", "required": true},
                    {"type": "string", "description": "confirmation token", "name": "token", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}}
            }
        },
        "/api/privacy/export": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["privacy"],
                "summary": "Export every record tied to the current user",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/privacy/delete-account": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["privacy"],
                "summary": "Delete the current user's account",
                "description": "The confirmation field must be exactly ELIMINA.",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/ws/events/{eventID}": {
            "get": {
                "tags": ["events"],
                "summary": "Live updates of one event",
                "parameters": [
                    {"type": "string", "description": "event id", "name": "eventID", "in": "path", "required": true},
                    {"type": "string", "description": "session token", "name": "token", "in": "query"}
                ],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness and database reachability",
                "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "PresenzaCalcio API",
	Description:      "Teams, rosters, convocations and privacy flows of a youth football club.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
