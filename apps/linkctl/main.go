package main

import (
	"context"
	"log"

	"go.tradervault.io/brokerlink/apps/linkctl/cmd"
	"go.tradervault.io/brokerlink/tracing"
)

func main() {
	tp, err := tracing.InitTracerProvider("brokerlink-linkctl")
	if err != nil {
		log.Fatalf("Failed to initialize TracerProvider: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down TracerProvider: %v", err)
		}
	}()

	cmd.Execute()
}
