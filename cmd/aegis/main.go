package main

import (
	"go.uber.org/fx"

	"github.com/fortuna/aegis/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
