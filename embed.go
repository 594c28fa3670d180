package voxrelay

import "embed"

//go:embed web/index.html web/app.js web/style.css
var WebFiles embed.FS

//go:embed openapi.yaml
var OpenAPISpec []byte
