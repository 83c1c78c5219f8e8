package main

// General API documentation for swaggo. Run `swag init -g cmd/llamagen/docs.go -o docs` to regenerate.
//
// @title           llamagen API
// @version         1.0
// @description     HTTP API for local text generation: raw completions, chat with tool calls, async jobs.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
