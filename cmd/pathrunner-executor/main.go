package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/pathrunner/cmd/pathrunner-executor/app"
)

func main() {
	app.NewApp().Run()
}
