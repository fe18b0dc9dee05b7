// Package docs holds the OpenAPI description served at /swagger/.
// Regenerate with `swag init -g cmd/emotiond/docs.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "emotiond maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "produces": ["application/json"],
                "summary": "Liveness greeting",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/types.RootResponse"}
                    }
                }
            }
        },
        "/model/": {
            "post": {
                "description": "Accepts a multipart upload and returns the predicted emotion.",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "summary": "Classify a face image",
                "parameters": [
                    {
                        "type": "file",
                        "description": "Image (jpeg, png, gif, bmp, webp)",
                        "name": "data",
                        "in": "formData",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "Set to 1 to include per-class probabilities",
                        "name": "probs",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PredictResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/model/info": {
            "get": {
                "produces": ["application/json"],
                "summary": "Loaded model description",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelInfo"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "error": {"type": "string"}
            }
        },
        "types.ModelInfo": {
            "type": "object",
            "properties": {
                "classes": {"type": "array", "items": {"type": "string"}},
                "epoch": {"type": "integer"},
                "hidden": {"type": "integer"},
                "image_size": {"type": "integer"},
                "run_id": {"type": "string"}
            }
        },
        "types.PredictResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "output": {"type": "string"},
                "probabilities": {"type": "object", "additionalProperties": {"type": "number"}},
                "status-code": {"type": "integer"}
            }
        },
        "types.RootResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "emotiond API",
	Description:      "Facial emotion classification service.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
