package api

import (
	"github.com/gin-gonic/gin"

	saldo "github.com/saldo-finance/saldo"
	"github.com/saldo-finance/saldo/api/middleware"
	"github.com/saldo-finance/saldo/config"
)

type Api struct {
	saldo  *saldo.Saldo
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/account-requests", a.CreateAccountRequest)
	router.GET("/account-requests/:id", a.GetAccountRequest)
	router.GET("/account-requests", a.GetAllAccountRequests)
	router.POST("/account-requests/:id/submit", a.SubmitAccountRequest)
	router.POST("/account-requests/:id/kyc", a.InitiateKYC)

	router.POST("/queue-items", a.EnqueueRequest)
	router.GET("/queue-items/:id", a.GetQueueItem)
	router.GET("/queue-items", a.GetQueueItemsByStatus)
	router.DELETE("/queue-items/:id", a.CancelQueueItem)
	router.GET("/queue/next", a.GetNextQueueItem)
	router.POST("/queue/process", a.ProcessQueueBatch)
	router.POST("/queue/retries", a.ProcessRetries)
	router.POST("/queue/recover", a.RecoverStuckItems)

	router.POST("/accounts", a.CreateVirtualAccount)
	router.GET("/accounts/:id", a.GetVirtualAccount)
	router.GET("/accounts/:id/movements", a.GetMovements)
	router.POST("/movements", a.RegisterMovement)
	router.POST("/operation-types", a.CreateOperationType)

	return a.router
}

func NewAPI(s *saldo.Saldo) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	a := &Api{saldo: s, router: r}

	// The provider webhook endpoint skips secret-key auth: deliveries carry
	// their own HMAC signature.
	r.POST("/webhooks/provider", a.IngestProviderWebhook)

	return a
}
