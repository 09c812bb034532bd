package main

import (
	"fmt"
	"os"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/pathrunner/cmd/pathrunner-ctl/app"
)

func main() {
	ctx := genericapiserver.SetupSignalContext()
	if err := app.NewCtlCommand(ctx).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
