package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"dugsi-admin/auth"
	"dugsi-admin/billing"
	"dugsi-admin/classes"
	"dugsi-admin/config"
	"dugsi-admin/conn"
	"dugsi-admin/email"
	"dugsi-admin/revalidate"
	"dugsi-admin/students"
)

type handlers struct {
	students *students.Handler
	billing  *billing.Handler
	classes  *classes.Handler
}

// buildHandlers wires repositories, services and handlers over db.
func buildHandlers(cfg *config.Config, db *sqlx.DB, cache *revalidate.Cache) (*handlers, error) {
	tx := conn.TxRunner{DB: db}
	mailer := email.NewMailer(cfg.SMTP)

	rates, err := billing.NewSchedule(cfg.RatesPerChild)
	if err != nil {
		return nil, err
	}
	studentRepo := students.NewRepository(db)
	billingRepo := billing.NewRepository(db)
	billingSvc := billing.NewService(studentRepo, billingRepo, billing.NewStripeGateway(cfg.Stripe), tx, rates, mailer)
	studentSvc := students.NewService(studentRepo, tx, billingSvc, mailer)

	classSvc, err := classes.NewService(classes.NewRepository(db), tx, cfg.Location(), cfg.MorningStart, cfg.AfternoonStart)
	if err != nil {
		return nil, err
	}

	return &handlers{
		students: students.NewHandler(studentSvc, cache),
		billing:  billing.NewHandler(billingSvc, billing.NewWebhookProcessor(billingRepo, cfg.Stripe.WebhookSecret, cfg.Env == "PROD"), cache),
		classes:  classes.NewHandler(classSvc, cache),
	}, nil
}

// requestID tags every request with an X-Request-ID, reusing the caller's when present.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		start := time.Now()
		c.Next()
		log.Printf("[HTTP] id=%s method=%s path=%s status=%d dur=%s", id, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func setupRouter(h *handlers, issuer *auth.Issuer, ping func() error) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID())

	r.GET("/health", func(c *gin.Context) {
		if ping != nil {
			if err := ping(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": "database unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.billing.RegisterWebhook(r)

	api := r.Group("/api/dugsi", issuer.Middleware())
	api.POST("/auth/logout", issuer.LogoutHandler)
	h.students.RegisterRoutes(api)
	h.billing.RegisterRoutes(api)
	h.classes.RegisterRoutes(api)
	return r
}
