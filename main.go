package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"secondbrain_back/ai"
	"secondbrain_back/authorization"
	"secondbrain_back/cache"
	"secondbrain_back/knowledge"
	"secondbrain_back/llm"
	"secondbrain_back/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func corsConfig() cors.Config {
	config := cors.DefaultConfig()
	config.AllowHeaders = append(config.AllowHeaders, "Authorization")
	raw := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))
	if raw == "" {
		config.AllowAllOrigins = true
		return config
	}
	origins := make([]string, 0)
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	config.AllowOrigins = origins
	return config
}

func main() {
	mustLoadEnv()

	startedAt := time.Now()

	r := gin.Default()
	r.Use(cors.New(corsConfig()))

	authModule, err := authorization.RegisterRoutes(r)
	if err != nil {
		log.Fatalf("register auth routes: %v", err)
	}
	guard := authModule.Guard()

	store, err := knowledge.NewServiceFromEnv()
	if err != nil {
		log.Fatalf("init knowledge store: %v", err)
	}

	client, err := llm.NewClientFromEnv()
	if err != nil {
		log.Fatalf("init llm client: %v", err)
	}

	attachments, err := storage.NewAttachmentStorageFromEnv()
	if err != nil {
		log.Fatalf("init attachment storage: %v", err)
	}
	if attachments == nil {
		log.Printf("main: attachment storage not configured, uploads disabled")
	}

	aiModule, err := ai.RegisterRoutes(r, guard, store, store, client, cache.Client())
	if err != nil {
		log.Fatalf("register ai routes: %v", err)
	}

	if _, err := knowledge.RegisterRoutes(r, guard, store, aiModule.Service(), attachments); err != nil {
		log.Fatalf("register knowledge routes: %v", err)
	}

	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := store.Ping(ctx); err != nil {
			dbStatus = "unreachable"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(startedAt).Round(time.Second).String(),
			"database": dbStatus,
			"llm":      client.Available(),
			"cache":    cache.Enabled(),
		})
	})

	r.GET("/api-docs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "Second Brain API",
			"version": "1.0",
			"endpoints": gin.H{
				"auth":      []string{"GET /api/auth/captcha", "POST /api/auth/register", "POST /api/auth/login", "POST /api/auth/refresh", "POST /api/auth/logout", "GET /api/auth/me", "PUT /api/auth/profile"},
				"knowledge": []string{"GET /api/knowledge", "POST /api/knowledge", "GET /api/knowledge/:id", "PUT /api/knowledge/:id", "DELETE /api/knowledge/:id", "GET /api/knowledge/search", "GET /api/knowledge/stats", "GET /api/knowledge/tags/popular", "GET /api/knowledge/public", "GET /api/knowledge/:id/attachments", "POST /api/knowledge/:id/attachments"},
				"ai":        []string{"POST /api/ai/process/:id", "POST /api/ai/batch-process", "POST /api/ai/summarize", "POST /api/ai/auto-tag", "POST /api/ai/tag", "POST /api/ai/categorize", "POST /api/ai/key-points", "POST /api/ai/query", "GET /api/ai/stats", "GET /api/ai/events"},
				"public":    []string{"GET /api/public/brain/query?q=..."},
			},
		})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Route not found"})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
