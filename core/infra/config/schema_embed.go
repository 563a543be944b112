package config

import "embed"

const guardSchemaFile = "schema/guard.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
