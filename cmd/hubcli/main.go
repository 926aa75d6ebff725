package main

import (
	"context"

	"github.com/hubkit/signalr/internal/hubcli"
)

func main() {
	hubcli.Execute(context.Background())
}
