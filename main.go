package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/qbtc-network/qbtc-custodian/app"
	"github.com/qbtc-network/qbtc-custodian/models"
)

func main() {

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	if len(os.Args) < 2 {
		log.Fatal("Please provide config file as parameter")
	}
	absConfigPath, _ := filepath.Abs(os.Args[1])

	envPath := ""
	if len(os.Args) > 2 {
		envPath, _ = filepath.Abs(os.Args[2])
	}

	app.InitConfig(absConfigPath, envPath)
	app.InitLogger()
	app.InitDB()

	core := CreateCore()

	healthcheck := app.NewHealthCheck()

	serviceHealthMap := make(map[string]models.ServiceHealth)
	if app.Config.HealthCheck.ReadLastHealth {
		for name, health := range healthcheck.LastHealthByService() {
			serviceHealthMap[name] = health
		}
	}

	var wg sync.WaitGroup

	var services []models.Service
	for serviceName, factory := range GetServiceFactories(core) {
		wg.Add(1)
		service := CreateService(&wg, serviceName, serviceHealthMap, factory.CreateService, factory.CreateServiceWithLastHealth)
		services = append(services, service)
	}

	healthcheck.SetServices(services)

	wg.Add(1)
	healthService := app.NewRunnerService(
		app.HealthCheckName,
		healthcheck,
		&wg,
		time.Duration(app.Config.HealthCheck.IntervalMillis)*time.Millisecond,
	)
	services = append(services, healthService)

	for _, service := range services {
		go service.Start()
	}

	log.Info("[MAIN] Server started")

	gracefulStop := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(gracefulStop, syscall.SIGINT, syscall.SIGTERM)
	go waitForExitSignals(gracefulStop, done)
	<-done

	log.Debug("[MAIN] Stopping server gracefully")

	for _, service := range services {
		service.Stop()
	}

	wg.Wait()

	app.DB.Disconnect()

	log.Info("[MAIN] Server stopped")
}

func waitForExitSignals(gracefulStop chan os.Signal, done chan bool) {
	sig := <-gracefulStop
	log.Debug("[MAIN] Got signal: ", sig)
	done <- true
}
