package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/roomcast/roomcast/internal/auth"
	"github.com/roomcast/roomcast/internal/directory/mongodb"
	"github.com/roomcast/roomcast/internal/handler"
	"github.com/roomcast/roomcast/internal/notify"
	"github.com/roomcast/roomcast/internal/presence"
	"github.com/roomcast/roomcast/internal/server"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	logger          *zap.Logger
	settings        Settings
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

func NewApp(logger *zap.Logger, settings Settings, dir *mongodb.Directory) *App {
	originChecker := server.NewOriginChecker(settings.AllowedOrigins)
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret, settings.APIKeys, dir)

	registry := presence.NewRegistry(logger)
	dispatcher := notify.NewDispatcher(logger, registry)

	heartbeatHandler := handler.NewHeartbeatHandler()
	joinHandler := handler.NewJoinHandler(registry, dispatcher)
	notifyHandler := handler.NewNotifyHandler(dispatcher)

	router := server.NewRouter(
		logger,
		heartbeatHandler,
		joinHandler,
	)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		authenticator,
		registry,
		dispatcher,
		router,
	)
	restServer := server.NewRESTServer(
		logger,
		notifyHandler,
		authenticator,
	)

	return &App{
		logger,
		settings,
		websocketServer,
		restServer,
	}
}

func (a *App) startHttpServer(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Fatal("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	godotenv.Load()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic("failed to parse settings from environment: " + err.Error())
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer logger.Sync()

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(settings.MongoDBURI))
	if err != nil {
		logger.Fatal("failed to connect to mongodb", zap.Error(err))
	}
	defer mongoClient.Disconnect(ctx)

	dir := mongodb.NewDirectory(mongoClient)

	setupCtx, setupCtxCancel := context.WithTimeout(ctx, 30*time.Second)
	defer setupCtxCancel()

	if err := dir.Setup(setupCtx); err != nil {
		logger.Fatal("failed to setup directory indexes", zap.Error(err))
	}

	app := NewApp(logger, settings, dir)
	app.startHttpServer(ctx)
}
