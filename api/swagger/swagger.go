package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Clinic Queue API",
        "description": "Patient queue priority scheduler: per-provider queues, priority ranking, wait estimates and live snapshots",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Authentication", "description": "Staff login"},
        {"name": "Queue", "description": "Queue entries, re-prioritization and snapshots"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate staff",
                "security": [],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current staff user",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/queues/entries": {
            "post": {
                "tags": ["Queue"],
                "summary": "Check a patient into a provider queue",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/JoinQueueRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown patient, provider or appointment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Concurrency conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/queues/entries/{id}": {
            "get": {
                "tags": ["Queue"],
                "summary": "Get queue entry",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/queues/entries/{id}/transition": {
            "post": {
                "tags": ["Queue"],
                "summary": "Change lifecycle status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition or concurrency conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/queues/entries/{id}/boost": {
            "post": {
                "tags": ["Queue"],
                "summary": "Manually raise a waiting entry's priority",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/BoostRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Entry not waiting", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/queues/entries/{id}/notes": {
            "post": {
                "tags": ["Queue"],
                "summary": "Append an audit note",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/NoteRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/queues/providers/{providerId}": {
            "get": {
                "tags": ["Queue"],
                "summary": "Current ordered queue of a provider",
                "parameters": [{"name": "providerId", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown provider", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/queues/providers/{providerId}/rescan": {
            "post": {
                "tags": ["Queue"],
                "summary": "Recompute every waiting entry's priority",
                "parameters": [{"name": "providerId", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/queues/providers/{providerId}/export": {
            "get": {
                "tags": ["Queue"],
                "summary": "Export a provider's current queue",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "providerId", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"200": {"description": "File"}}
            }
        },
        "/queues/providers/{providerId}/ws": {
            "get": {
                "tags": ["Queue"],
                "summary": "WebSocket stream of provider snapshots",
                "parameters": [
                    {"name": "providerId", "in": "path", "required": true, "type": "string"},
                    {"name": "access_token", "in": "query", "type": "string"}
                ],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/queues/locations/{locationId}": {
            "get": {
                "tags": ["Queue"],
                "summary": "Current ordered queues at a location",
                "parameters": [{"name": "locationId", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/queues/locations/{locationId}/ws": {
            "get": {
                "tags": ["Queue"],
                "summary": "WebSocket stream of location snapshots",
                "parameters": [
                    {"name": "locationId", "in": "path", "required": true, "type": "string"},
                    {"name": "access_token", "in": "query", "type": "string"}
                ],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "JoinQueueRequest": {
            "type": "object",
            "required": ["patient_id", "provider_id", "urgency_level"],
            "properties": {
                "patient_id": {"type": "string"},
                "provider_id": {"type": "string"},
                "appointment_id": {"type": "string"},
                "urgency_level": {"type": "string", "enum": ["low", "medium", "high", "critical", "emergency"]},
                "source": {"type": "string", "enum": ["scheduled", "follow_up", "emergency", "walk_in"]},
                "special_requirements": {"type": "string"},
                "notes": {"type": "string"}
            }
        },
        "TransitionRequest": {
            "type": "object",
            "required": ["target_status"],
            "properties": {
                "target_status": {"type": "string", "enum": ["waiting", "called", "in_consultation", "completed", "cancelled"]},
                "notes": {"type": "string"}
            }
        },
        "BoostRequest": {
            "type": "object",
            "properties": {"reason": {"type": "string"}}
        },
        "NoteRequest": {
            "type": "object",
            "required": ["text"],
            "properties": {"text": {"type": "string"}}
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
