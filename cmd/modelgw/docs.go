package main

// General API documentation for swaggo. Regenerate docs/ with `swag init -g cmd/modelgw/docs.go`.
//
// @title           modelgw API
// @version         1.0
// @description     OpenAI-compatible chat completions for a single local model.
//
// @contact.name   modelgw maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
