package main

import (
	"log"

	"queue-monitor/cmd"
	_ "queue-monitor/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
