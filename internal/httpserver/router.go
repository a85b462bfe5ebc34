package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"carshare/internal/auth"
	"carshare/internal/command"
	"carshare/internal/fleet"
	"carshare/internal/httpserver/handlers"
	"carshare/internal/rental"
	"carshare/internal/store"
)

// Deps bundles everything the router needs. WSHandler is optional; when nil
// the /ws route is not mounted.
type Deps struct {
	Store     store.Store
	Auth      *auth.Service
	Fleet     *fleet.Service
	Rental    *rental.Service
	Commands  *command.Service
	WSHandler http.HandlerFunc
	Logger    *zap.SugaredLogger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)

	r.Post("/register", handlers.Register(d.Auth, d.Logger))
	r.Post("/login", handlers.Login(d.Auth, d.Logger))
	r.Post("/car/register", handlers.RegisterCar(d.Auth, d.Logger))
	r.Patch("/cars/{vin}/telematics", handlers.UpdateTelematics(d.Fleet, d.Logger))

	r.Group(func(protected chi.Router) {
		protected.Use(auth.ClientAuth(d.Auth))
		protected.Get("/me", handlers.Me(d.Auth, d.Logger))
		protected.Post("/logout", handlers.Logout(d.Auth, d.Logger))
		protected.Get("/cars", handlers.ListCars(d.Fleet, d.Auth, d.Logger))
		protected.Get("/rentals/me", handlers.MyRentals(d.Rental, d.Logger))
		protected.Post("/rentals/start", handlers.StartRental(d.Rental, d.Logger))
		protected.Post("/rentals/end", handlers.EndRental(d.Rental, d.Logger))
		protected.Get("/logs", handlers.MyLogs(d.Store, d.Logger))
	})

	r.Group(func(car chi.Router) {
		car.Use(auth.CarAuth(d.Auth))
		car.Post("/car/heartbeat", handlers.Heartbeat(d.Commands, d.Logger))
		car.Get("/car/commands", handlers.PullCommands(d.Commands, d.Logger))
		car.Post("/car/ack", handlers.AckCommand(d.Commands, d.Logger))
	})

	if d.WSHandler != nil {
		r.Get("/ws", d.WSHandler)
	}

	r.Get("/healthz", handlers.Health(d.Store))
	return r
}
