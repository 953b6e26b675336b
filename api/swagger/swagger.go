package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Timetable API",
        "description": "Automated school timetable generation and clash validation",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Timetables", "description": "Generation jobs, results and clash checks"},
        {"name": "Metrics", "description": "Service statistics"}
    ],
    "paths": {
        "/timetables/generate": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Queue a timetable generation run",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateTimetableRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/jobs": {
            "get": {
                "tags": ["Timetables"],
                "summary": "List generation jobs",
                "parameters": [
                    {"name": "schoolId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["QUEUED", "PROCESSING", "FINISHED", "FAILED"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/jobs/{id}": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Get generation job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/jobs/{id}/result": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Get the schedule produced by a finished job",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Job not finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/jobs/{id}/apply": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Write a finished job's schedule to the timetable",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Applied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflicts or already applied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/validate": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Check entries for teacher and class clashes",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ValidateTimetableRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/validate/entry": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Check a single entry against the stored timetable",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ValidateEntryRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Metrics summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "GenerateTimetableRequest": {
            "type": "object",
            "properties": {
                "schoolId": {"type": "string"},
                "scope": {"type": "string", "enum": ["global", "major", "group", "division"]},
                "scopeId": {"type": "string"},
                "seed": {"type": "integer"},
                "timeBudgetSeconds": {"type": "integer"}
            },
            "required": ["schoolId", "scope"]
        },
        "TimetableEntryRequest": {
            "type": "object",
            "properties": {
                "teacherId": {"type": "string"},
                "subjectId": {"type": "string"},
                "grade": {"type": "string"},
                "section": {"type": "string"},
                "day": {"type": "string"},
                "timeSlotId": {"type": "string"},
                "divisionId": {"type": "string"}
            },
            "required": ["teacherId", "grade", "section", "day", "timeSlotId"]
        },
        "ValidateTimetableRequest": {
            "type": "object",
            "properties": {
                "schoolId": {"type": "string"},
                "entries": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/TimetableEntryRequest"}
                }
            },
            "required": ["schoolId", "entries"]
        },
        "ValidateEntryRequest": {
            "type": "object",
            "properties": {
                "schoolId": {"type": "string"},
                "entry": {"$ref": "#/definitions/TimetableEntryRequest"}
            },
            "required": ["schoolId", "entry"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
