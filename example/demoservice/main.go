package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// demoservice is the kind of child conductr supervises: it reads PORT and
// CONDUCTR_MODE from the environment, takes a moment to become ready, and
// answers health probes on /healthz only after warmup finished.
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	mode := os.Getenv("CONDUCTR_MODE")

	ready := make(chan struct{})
	go func() {
		// Simulated warmup: cache fill, migrations, etc.
		time.Sleep(500 * time.Millisecond)
		close(ready)
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		select {
		case <-ready:
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		default:
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "warming up"})
		}
	})
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, fmt.Sprintf("demoservice pid=%d mode=%s\n", os.Getpid(), mode))
	})

	e.Logger.Fatal(e.Start(":" + port))
}
