package main

// General API documentation for swaggo. Run `swag init -g cmd/textgen/docs.go`
// and build with -tags=swagger to serve it.
//
// @title           textgen API
// @version         1.0
// @description     HTTP front end for extending selected text with a supervised generation worker.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
