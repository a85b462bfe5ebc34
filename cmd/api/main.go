package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"carshare/internal/auth"
	"carshare/internal/command"
	"carshare/internal/config"
	"carshare/internal/fleet"
	"carshare/internal/httpserver"
	"carshare/internal/logger"
	"carshare/internal/models"
	"carshare/internal/rental"
	"carshare/internal/store"
	"carshare/internal/ws"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	lg := logger.New(cfg.LogLevel)
	defer lg.Sync()

	var dial gorm.Dialector
	if cfg.DatabaseURL != "" {
		dial = postgres.Open(cfg.DatabaseURL)
	} else {
		dial = sqlite.Open(cfg.SQLitePath)
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		lg.Fatalw("db connect failed", "error", err)
	}

	st := store.NewGorm(db)
	if err := st.AutoMigrate(); err != nil {
		lg.Fatalw("automigrate failed", "error", err)
	}
	seedCars(context.Background(), st, lg)

	authSvc := auth.NewService(st, lg, cfg.JWTSecret, cfg.JWTTTL, cfg.CarAPIKey)
	fleetSvc := fleet.NewService(st, lg)
	cmdSvc := command.NewService(st, fleetSvc, lg)
	rentalSvc := rental.NewService(st, cmdSvc, lg, cfg.MaxStartDistanceKm)

	hub := ws.NewHub(authSvc, fleetSvc, rentalSvc, cmdSvc, lg)
	cmdSvc.SetDispatcher(hub)
	rentalSvc.SetNotifier(hub)

	router := httpserver.NewRouter(httpserver.Deps{
		Store:     st,
		Auth:      authSvc,
		Fleet:     fleetSvc,
		Rental:    rentalSvc,
		Commands:  cmdSvc,
		WSHandler: hub.Handler(),
		Logger:    lg,
	})

	lg.Infow("listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		lg.Fatalw("server stopped", "error", err)
	}
}

// seedCars inserts the lab fleet on first boot. Existing cars are left
// untouched so telematics state survives restarts.
func seedCars(ctx context.Context, st store.Store, lg *zap.SugaredLogger) {
	seed := []models.Car{
		{VIN: "VIN-001", Model: "Hatchback", Lat: 47.156, Lon: 27.590},
		{VIN: "VIN-002", Model: "SUV", Lat: 47.162, Lon: 27.601},
		{VIN: "VIN-003", Model: "Sedan", Lat: 47.170, Lon: 27.575},
	}
	for _, car := range seed {
		if _, err := st.CarByVIN(ctx, car.VIN); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			lg.Warnw("seed lookup failed", "vin", car.VIN, "error", err)
			continue
		}
		car.Status = models.CarStatusAvailable
		car.Locked = true
		car.DoorsClosed = true
		car.LightsOff = true
		car.EngineOff = true
		car.BatteryPct = 100
		if err := st.CreateCar(ctx, &car); err != nil {
			lg.Warnw("seed insert failed", "vin", car.VIN, "error", err)
			continue
		}
		lg.Infow("seeded car", "vin", car.VIN, "model", car.Model)
	}
}
