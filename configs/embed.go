// Package configs embeds the configuration templates written by
// `strata config init`.
//
// Configuration layers (see internal/config Load):
//  1. Defaults
//  2. User config (~/.config/strata/config.yaml)
//  3. Project config (strata.yaml)
//  4. .env next to the project config
//  5. STRATA_* environment variables
package configs

import _ "embed"

// ProjectConfigTemplate is written to strata.yaml by `strata config init`.
// It declares one source of each type and documents every other setting
// with its default.
//
//go:embed strata.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is written to the user config by
// `strata config init --user`. It holds machine-wide embedding settings.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
