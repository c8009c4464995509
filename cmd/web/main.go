package main

import (
	"go.uber.org/fx"

	"typerace/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
