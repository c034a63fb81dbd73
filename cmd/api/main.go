// Package main (in api-subfolder) provides launch of the whole application except worker
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/kafka"
	"github.com/UnendingLoop/BgRemover/internal/mwlogger"
	"github.com/UnendingLoop/BgRemover/internal/repository"
	"github.com/UnendingLoop/BgRemover/internal/service"
	"github.com/UnendingLoop/BgRemover/internal/storage"
	"github.com/UnendingLoop/BgRemover/internal/transport"
	"github.com/robfig/cron/v3"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/ginext"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/zlog"
)

func main() {
	// инициализировать конфиг/ считать энвы
	appConfig := config.New()
	appConfig.EnableEnv("")
	if err := appConfig.LoadEnvFiles("./.env"); err != nil {
		log.Fatalf("Failed to load envs: %s\nExiting app...", err)
	}
	setDefaults(appConfig)

	// стартуем логгер
	zlog.InitConsole()
	err := zlog.SetLevel("info")
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	// готовим заранее слушатель прерываний - контекст для всего приложения
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// подключитсья к базе
	dbConn := repository.ConnectWithRetries(appConfig, 5, 10*time.Second)
	// накатываем миграцию
	repository.MigrateWithRetries(dbConn.Master, "./migrations", 10, 15*time.Second)

	// подключиться к хранилищу хэндлов
	strg := storage.NewHandleStorage(appConfig, 10*time.Second)
	// создаем экземпляр репо
	repo := repository.NewPostgresSessionRepo(dbConn)

	// ждем пока кафка раздуплится
	broker := appConfig.GetString("KAFKA_BROKER")
	if err := kafka.WaitReady(ctx, broker, 5*time.Second); err != nil {
		log.Fatalf("Kafka is not reachable: %v", err)
	}
	// подключиться к кафке как продюсер
	topic := appConfig.GetString("KAFKA_TOPIC")
	if err := kafka.InitTopics(ctx, broker, 1, 10*time.Second, topic); err != nil {
		log.Fatalf("Failed to create Kafka topic %q: %v", topic, err)
	}
	pub := wbfkafka.NewProducer([]string{broker}, topic)

	// создаем экземпляр сервиса
	svc := service.NewEditorService(repo, pub, strg, appConfig.GetDuration("UPLOAD_ERROR_TTL"))
	// cоздаем экземпляр хендлера HTTP
	var editor transport.EditorService = svc
	handlers := transport.NewSessionHandler(editor)
	// сетапим сервер
	mode := appConfig.GetString("GIN_MODE")
	engine := ginext.New(mode)

	engine.GET("/ping", handlers.SimplePinger)
	engine.POST("/sessions", handlers.Create)                         // новая сессия редактора
	engine.GET("/sessions/:id", handlers.Get)                         // текущее состояние экрана
	engine.POST("/sessions/:id/drop", handlers.Drop)                  // файлы брошены в зону
	engine.POST("/sessions/:id/pick", handlers.Pick)                  // файл выбран через пикер
	engine.POST("/sessions/:id/drag", handlers.Drag)                  // подсветка зоны
	engine.POST("/sessions/:id/alert/dismiss", handlers.DismissAlert) // закрыть алерт
	engine.POST("/sessions/:id/reset", handlers.Reset)                // "Upload New Image"
	engine.GET("/sessions/:id/download", handlers.Download)           // скачать результат
	engine.DELETE("/sessions/:id", handlers.Delete)                   // закрыть сессию
	engine.GET("/handles/*key", handlers.OpenHandle)
	engine.Static("/web", "./internal/web")

	srv := &http.Server{
		Addr:    ":" + appConfig.GetString("APP_PORT"),
		Handler: mwlogger.NewMWLogger(engine),
	}

	// Server launch
	go func() {
		log.Printf("Server running on http://localhost%s\n", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil {
			switch {
			case errors.Is(err, http.ErrServerClosed):
				log.Println("Server gracefully stopping...")
			default:
				log.Printf("Server stopped: %v", err)
				stop()
			}
		}
	}()

	// по расписанию валим удаление фона, которое зависло дольше STALE_AFTER
	sweeper, err := staleSweeper(appConfig, svc)
	if err != nil {
		log.Fatalf("Failed to schedule stale sweep: %v", err)
	}
	sweeper.Start()

	// ждем отмены контекста для запуска грейсфул закрытия соединений
	<-ctx.Done()

	shutdown(srv, sweeper, pub, dbConn)
	log.Println("Exiting api...")
}

func staleSweeper(appConfig *config.Config, svc StaleSweeper) (*cron.Cron, error) {
	spec := appConfig.GetString("STALE_SWEEP_SPEC")
	staleAfter := appConfig.GetDuration("STALE_AFTER")
	zoneIdle := appConfig.GetDuration("ZONE_IDLE_TTL")

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		svc.FailStale(context.Background(), staleAfter, 20)
		if n := svc.DropIdleZones(zoneIdle); n > 0 {
			log.Printf("Dropped %d idle upload zones", n)
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func shutdown(srv *http.Server, sweeper *cron.Cron, pub *wbfkafka.Producer, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Println("Failed to shutdown HTTP-server:", err)
	}
	<-sweeper.Stop().Done()
	log.Println("Stale sweep stopped.")

	// Closing Kafka connection:
	if err := pub.Close(); err != nil {
		log.Println("Failed to close Kafka-writer:", err)
	}
	log.Println("Kafka-producer connection closed.")

	// Closing DB connection
	if err := dbConn.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
		return
	}
	log.Println("DBconn closed")
}
