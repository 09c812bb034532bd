package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/pathrunner/cmd/pathrunner-robot/app"
)

func main() {
	app.NewApp().Run()
}
