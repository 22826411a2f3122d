// Command wsauth-client opens one authenticated WebSocket session over TLS
// and prints every frame it receives until it is interrupted.
//
//	wsauth-client <host> <port> <text>
//
// The access and secret keys are read from conf/access and conf/secret
// (see --key-dir).
package main

import (
	"os"

	"github.com/spf13/afero"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, afero.NewOsFs()))
}
