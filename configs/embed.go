// Package configs embeds the configuration template written by
// `docrag init`.
package configs

import _ "embed"

// ProjectConfigTemplate is the commented .docrag.yaml written by
// `docrag init`. Every key carries its default.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
