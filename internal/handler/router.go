package handler

import (
	"net/http"

	"treasury/internal/config"
	"treasury/internal/infrastructure/lock"
	"treasury/internal/repository"
	"treasury/internal/service"
	"treasury/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter 配置路由，rdb 为 nil 时计划槽位不加 Redis 锁
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	var locker service.SlotLocker
	if rdb != nil {
		locker = lock.NewPlanSlotLocker(rdb, cfg.Business.PlanLockTTL())
	}
	directory := repository.NewDirectoryRepository(db)
	plans := service.NewPlanService(db, cfg, logger, directory, locker)
	entries := service.NewEntryService(db, cfg, logger)
	outbox := service.NewOutboxService(db, cfg, logger)

	h := NewHandler(plans, entries, outbox, logger)

	api := r.Group("/api/v1", AuthMiddleware(cfg.Auth.JWTSecret))
	{
		planos := api.Group("/planos")
		{
			planos.POST("", h.CreatePlan)
			planos.GET("", h.ListPlans)
			planos.GET("/:id", h.GetPlan)
			planos.PUT("/:id", h.UpdatePlan)
			planos.DELETE("/:id", h.DeletePlan)
			planos.PATCH("/:id/status", h.TransitionPlan)
			planos.POST("/:id/importar-orcamento", h.ImportBudget)

			entradas := planos.Group("/:id/entradas")
			{
				entradas.GET("", h.ListEntries)
				entradas.POST("", h.CreateEntry)
				entradas.GET("/:entradaId", h.GetEntry)
				entradas.PUT("/:entradaId", h.UpdateEntry)
				entradas.DELETE("/:entradaId", h.DeleteEntry)
				entradas.PATCH("/:entradaId/status", h.ChangeEntryStatus)
			}
		}

		eventos := api.Group("/eventos")
		{
			eventos.GET("/falhas", h.ListFailedEvents)
			eventos.POST("/:id/reenviar", h.RequeueEvent)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "接口不存在", nil)
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
