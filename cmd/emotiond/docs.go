package main

// General API documentation for swaggo. Run `swag init -g cmd/emotiond/docs.go` to regenerate docs.
//
// @title           emotiond API
// @version         1.0
// @description     Facial emotion classification service.
//
// @contact.name   emotiond maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
