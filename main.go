//go:generate weaver generate ./pkg/api ./pkg/services ./pkg/model ./pkg/trace ./pkg/metrics .

package main

import (
	"context"
	"log"

	"chitter/pkg/api"

	"github.com/ServiceWeaver/weaver"
)

// this is an entry file for the chitter application
// the source code of services is in the "pkg" folder
func main() {
	if err := weaver.Run(context.Background(), api.Serve); err != nil {
		log.Fatal(err)
	}
}
