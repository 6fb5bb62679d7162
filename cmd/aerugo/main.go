package main

import (
	_ "net/http/pprof"

	"github.com/aerugo/aerugo/registry"

	_ "github.com/aerugo/aerugo/registry/auth/remote"
	_ "github.com/aerugo/aerugo/registry/auth/silly"
	_ "github.com/aerugo/aerugo/registry/objectstore/inmemory"
	_ "github.com/aerugo/aerugo/registry/objectstore/s3"
)

func main() {
	// nolint:errcheck
	registry.RootCmd.Execute()
}
