// Package all is a meta-package that imports all store implementations.
package all

import (
	_ "github.com/uvensys/sphinx/lib/store/bbolt"
	_ "github.com/uvensys/sphinx/lib/store/memory"
	_ "github.com/uvensys/sphinx/lib/store/valkey"
)
