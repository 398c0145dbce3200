// Package plugins links every built-in board plugin into the binary.
package plugins

import (
	_ "github.com/stake-plus/roomboard/src/plugins/example"
)
