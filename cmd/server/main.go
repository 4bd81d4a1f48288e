package main

import (
	"database/sql"
	"log"

	_ "github.com/lib/pq"

	"github.com/envhub/envhub/cache"
	"github.com/envhub/envhub/internal/config"
	"github.com/envhub/envhub/router"
)

func main() {
	if err := config.LoadConfig(""); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pg.Close()
	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping postgres: %v", err)
	}

	c, err := cache.NewFromURL(config.App.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer c.Close()

	r := router.NewGinRouter(pg, c)

	log.Printf("Listening on :%s", config.App.Port)
	if err := r.Run(":" + config.App.Port); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
