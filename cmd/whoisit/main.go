package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// go build -ldflags "-X main.version=v1.0.0 -X 'main.buildDate=$(date +%Y-%m-%d)'" -o whoisit ./cmd/whoisit

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    true,
		DisableColors:    true,
		QuoteEmptyFields: true,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
