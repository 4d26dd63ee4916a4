package main

import (
	"github.com/notefall/notefall/pkg/app"
)

func main() {
	app.Execute()
}
