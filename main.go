package main

import (
	"ec2launch/cmd"
	"ec2launch/internal/logging"

	"go.uber.org/zap"
)

func main() {
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		if err := logging.Sync(); err != nil {
			logging.Logger().Debug("failed to sync logger on exit", zap.Error(err))
		}
	}()

	cmd.Execute()
}
