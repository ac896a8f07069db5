package main

import (
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/IgorGanapolsky/iot-provisioning-auth/api/registryhandler"
	"github.com/IgorGanapolsky/iot-provisioning-auth/cmd/flags"
	"github.com/IgorGanapolsky/iot-provisioning-auth/httpserver"
	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
	"github.com/IgorGanapolsky/iot-provisioning-auth/storage"
	"github.com/urfave/cli/v2"
)

var RegistryServiceLogFlag = flags.LogServiceFlagFn("registry")

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var AssignedHubFlag = &cli.StringFlag{
	Name:     "assigned-hub",
	Required: true,
	Usage:    "hub hostname handed to devices after successful registration",
}
var ServiceKeyNameFlag = &cli.StringFlag{
	Name:  "service-key-name",
	Value: "provisioningserviceowner",
	Usage: "shared access policy name service tokens must carry",
}
var ServiceKeyFlag = &cli.StringFlag{
	Name:  "service-key",
	Value: "",
	Usage: "base64 shared access key gating enrollment management, unauthenticated if unset",
}

func main() {
	app := &cli.App{
		Name:  "registry-server",
		Usage: "Serve the device enrollment registry and registration API",
		Flags: append([]cli.Flag{
			ListenAddrFlag,
			AssignedHubFlag,
			ServiceKeyNameFlag,
			ServiceKeyFlag,
			flags.StoreFlag,
			flags.TLSCertFlag,
			flags.TLSKeyFlag,
			RegistryServiceLogFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(ListenAddrFlag.Name)
			storeURI := cCtx.String(flags.StoreFlag.Name)

			// Setup logger
			logger := flags.SetupLogger(cCtx)

			assignedHub, err := interfaces.NewHostname(cCtx.String(AssignedHubFlag.Name))
			if err != nil {
				logger.Error("Invalid assigned hub hostname", "err", err)
				return err
			}

			location, err := interfaces.NewStoreLocation(storeURI)
			if err != nil {
				logger.Error("Invalid store location URI", "err", err)
				return err
			}

			storageFactory := storage.NewRecordStoreFactory(logger)
			store, err := storageFactory.RecordStoreFor(location)
			if err != nil {
				logger.Error("Failed to create enrollment store", "err", err)
				return err
			}

			var policy *registryhandler.ServicePolicy
			if serviceKey := cCtx.String(ServiceKeyFlag.Name); serviceKey != "" {
				key, err := base64.StdEncoding.DecodeString(serviceKey)
				if err != nil {
					logger.Error("Invalid service key - must be base64", "err", err)
					return fmt.Errorf("invalid service-key: %w", err)
				}
				policy = &registryhandler.ServicePolicy{
					KeyName: cCtx.String(ServiceKeyNameFlag.Name),
					Key:     key,
				}
			} else {
				logger.Warn("No service key configured, enrollment management is unauthenticated")
			}

			handler := registryhandler.NewHandler(store, assignedHub, policy, logger)

			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "listenAddr", listenAddr, "store", storeURI)
			srv.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			// Shutdown server gracefully
			srv.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
