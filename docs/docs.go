// Package docs holds the OpenAPI document served under /swagger/ when the
// server is built with -tags=swagger. Regenerate with
// `swag init -g cmd/llamagen/docs.go -o docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {"get": {"tags": ["models"], "summary": "List available models", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/models/{id}": {"get": {"tags": ["models"], "summary": "Describe a model", "produces": ["application/json"], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/models/{id}/load": {"post": {"tags": ["models"], "summary": "Load a model in the background", "produces": ["application/json"], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"202": {"description": "Accepted"}, "404": {"description": "Not Found"}}}},
        "/status": {"get": {"tags": ["status"], "summary": "Loaded sessions and counters", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/completion": {"post": {"tags": ["generation"], "summary": "Complete a raw prompt", "consumes": ["application/json"], "produces": ["application/json", "application/x-ndjson"], "responses": {"200": {"description": "OK"}, "202": {"description": "Accepted"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}, "429": {"description": "Too Many Requests"}}}},
        "/v1/chat/completions": {"post": {"tags": ["generation"], "summary": "Chat completion", "consumes": ["application/json"], "produces": ["application/json", "text/event-stream"], "responses": {"200": {"description": "OK"}, "202": {"description": "Accepted"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}, "429": {"description": "Too Many Requests"}}}},
        "/tokenize": {"post": {"tags": ["tokenizer"], "summary": "Tokenize text", "responses": {"200": {"description": "OK"}}}},
        "/detokenize": {"post": {"tags": ["tokenizer"], "summary": "Detokenize tokens", "responses": {"200": {"description": "OK"}}}},
        "/embedding": {"post": {"tags": ["embeddings"], "summary": "Embed text", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}},
        "/jobs/{id}": {
            "get": {"tags": ["jobs"], "summary": "Poll an async job", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "delete": {"tags": ["jobs"], "summary": "Cancel an async job", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"202": {"description": "Accepted"}, "404": {"description": "Not Found"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "llamagen API",
	Description:      "HTTP API for local text generation: raw completions, chat with tool calls, async jobs.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
