package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"treasury/internal/service"
	"treasury/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	planService   *service.PlanService
	entryService  *service.EntryService
	outboxService *service.OutboxService
	logger        *zap.Logger
}

func NewHandler(plans *service.PlanService, entries *service.EntryService, outbox *service.OutboxService, logger *zap.Logger) *Handler {
	return &Handler{
		planService:   plans,
		entryService:  entries,
		outboxService: outbox,
		logger:        logger,
	}
}

// ============================================================
// 资金计划
// ============================================================

// CreatePlan 新建资金计划
// POST /api/v1/planos
func (h *Handler) CreatePlan(c *gin.Context) {
	var req service.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	plan, err := h.planService.CreatePlan(c.Request.Context(), &req, actorID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Created(c, plan)
}

// ListPlans 资金计划列表
// GET /api/v1/planos?empresa_id=&ano=&mes=&status=&page=&page_size=
func (h *Handler) ListPlans(c *gin.Context) {
	var q service.PlanQuery
	var ok bool
	if q.CompanyID, ok = queryInt64(c, "empresa_id"); !ok {
		return
	}
	if q.Year, ok = queryInt(c, "ano"); !ok {
		return
	}
	if q.Month, ok = queryInt(c, "mes"); !ok {
		return
	}
	if q.Page, ok = queryInt(c, "page"); !ok {
		return
	}
	if q.PageSize, ok = queryInt(c, "page_size"); !ok {
		return
	}
	q.Status = c.Query("status")

	page, err := h.planService.ListPlans(c.Request.Context(), &q)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, page)
}

// GetPlan 资金计划详情
// GET /api/v1/planos/:id
func (h *Handler) GetPlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	detail, err := h.planService.GetPlan(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, detail)
}

// UpdatePlan 修改资金计划，只更新请求中出现的字段
// PUT /api/v1/planos/:id
func (h *Handler) UpdatePlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	plan, err := h.planService.UpdatePlan(c.Request.Context(), id, &req, actorID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, plan)
}

// DeletePlan 删除资金计划（软删除）
// DELETE /api/v1/planos/:id
func (h *Handler) DeletePlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.planService.DeletePlan(c.Request.Context(), id, actorID(c)); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{"id": id})
}

// TransitionPlan 变更资金计划状态
// PATCH /api/v1/planos/:id/status
func (h *Handler) TransitionPlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	plan, err := h.planService.TransitionStatus(c.Request.Context(), id, &req, actorID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, plan)
}

// ImportBudget 关联预算并按预算生成流入记录
// POST /api/v1/planos/:id/importar-orcamento
func (h *Handler) ImportBudget(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.ImportBudgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.planService.ImportFromBudget(c.Request.Context(), id, &req, actorID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 资金流入记录
// ============================================================

// ListEntries 计划下的流入记录
// GET /api/v1/planos/:id/entradas?data_inicio=&data_fim=&tipo=&status=&page=&page_size=
func (h *Handler) ListEntries(c *gin.Context) {
	planID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var q service.EntryQuery
	if q.From, ok = queryDate(c, "data_inicio", false); !ok {
		return
	}
	if q.To, ok = queryDate(c, "data_fim", true); !ok {
		return
	}
	if q.Page, ok = queryInt(c, "page"); !ok {
		return
	}
	if q.PageSize, ok = queryInt(c, "page_size"); !ok {
		return
	}
	q.Type = c.Query("tipo")
	q.Status = c.Query("status")

	page, err := h.entryService.ListEntries(c.Request.Context(), planID, &q)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, page)
}

// CreateEntry 新增流入记录
// POST /api/v1/planos/:id/entradas
func (h *Handler) CreateEntry(c *gin.Context) {
	planID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.CreateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	entry, err := h.entryService.CreateEntry(c.Request.Context(), planID, &req, actorID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Created(c, entry)
}

// GetEntry 流入记录详情
// GET /api/v1/planos/:id/entradas/:entradaId
func (h *Handler) GetEntry(c *gin.Context) {
	planID, entryID, ok := entryPath(c)
	if !ok {
		return
	}

	entry, err := h.entryService.GetEntry(c.Request.Context(), planID, entryID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, entry)
}

// UpdateEntry 修改流入记录
// PUT /api/v1/planos/:id/entradas/:entradaId
func (h *Handler) UpdateEntry(c *gin.Context) {
	planID, entryID, ok := entryPath(c)
	if !ok {
		return
	}

	var req service.UpdateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	entry, err := h.entryService.UpdateEntry(c.Request.Context(), planID, entryID, &req, actorID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, entry)
}

// DeleteEntry 删除流入记录（软删除）
// DELETE /api/v1/planos/:id/entradas/:entradaId
func (h *Handler) DeleteEntry(c *gin.Context) {
	planID, entryID, ok := entryPath(c)
	if !ok {
		return
	}

	if err := h.entryService.DeleteEntry(c.Request.Context(), planID, entryID, actorID(c)); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{"id": entryID})
}

// ChangeEntryStatus 变更流入记录状态
// PATCH /api/v1/planos/:id/entradas/:entradaId/status
func (h *Handler) ChangeEntryStatus(c *gin.Context) {
	planID, entryID, ok := entryPath(c)
	if !ok {
		return
	}

	var req service.EntryStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	entry, err := h.entryService.ChangeEntryStatus(c.Request.Context(), planID, entryID, &req, actorID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, entry)
}

// ============================================================
// 事件投递运维
// ============================================================

// ListFailedEvents 投递失败的计划事件
// GET /api/v1/eventos/falhas?limit=
func (h *Handler) ListFailedEvents(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	events, err := h.outboxService.ListFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, events)
}

// RequeueEvent 把失败事件放回待发送队列
// POST /api/v1/eventos/:id/reenviar
func (h *Handler) RequeueEvent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.outboxService.RequeueEvent(c.Request.Context(), id, actorID(c)); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{"id": id})
}

// ============================================================
// 错误映射与参数解析
// ============================================================

var errorCodes = []struct {
	target error
	code   int
}{
	{service.ErrPlanNotFound, response.CodePlanNotFound},
	{service.ErrEntryNotFound, response.CodeEntryNotFound},
	{service.ErrDuplicatePlan, response.CodeDuplicatePlan},
	{service.ErrPlanLocked, response.CodePlanLocked},
	{service.ErrPlanNotEditable, response.CodePlanNotEditable},
	{service.ErrInvalidTransition, response.CodeInvalidTransition},
	{service.ErrMissingApprover, response.CodeMissingApprover},
	{service.ErrMissingBudgetID, response.CodeMissingBudgetID},
	{service.ErrInvalidStatus, response.CodeInvalidStatus},
	{service.ErrValidation, response.CodeValidation},
	{service.ErrEventNotRequeueable, response.CodeEventNotRequeueable},
}

// fail 领域错误按类型返回 404 / 400，其余按 500 处理并记录原因
func (h *Handler) fail(c *gin.Context, err error) {
	e, ok := service.AsError(err)
	if !ok {
		h.logger.Error("请求处理失败",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.Error(err),
		)
		response.ServerError(c)
		return
	}

	status := http.StatusBadRequest
	if e.Kind == service.KindNotFound {
		status = http.StatusNotFound
	}

	code := response.CodeBusinessError
	for _, ec := range errorCodes {
		if errors.Is(e, ec.target) {
			code = ec.code
			break
		}
	}

	response.Error(c, status, code, e.Message, &response.Details{
		Error:   e.Code,
		Field:   e.Field,
		Current: e.Current,
		Target:  e.Target,
		Allowed: e.Allowed,
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}

func entryPath(c *gin.Context) (int64, int64, bool) {
	planID, ok := pathID(c, "id")
	if !ok {
		return 0, 0, false
	}
	entryID, ok := pathID(c, "entradaId")
	if !ok {
		return 0, 0, false
	}
	return planID, entryID, true
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return v, true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	v, ok := queryInt64(c, name)
	return int(v), ok
}

// queryDate 纯日期按服务器本地时区解释，和 data_entrada 的默认值一致
func queryDate(c *gin.Context, name string, endOfDay bool) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := parseQueryDate(raw, endOfDay, time.Local)
	if err != nil {
		response.ParamError(c, name+" 日期格式错误")
		return nil, false
	}
	return &t, true
}

// parseQueryDate 支持 RFC3339 和 2006-01-02，endOfDay 为 true 时纯日期取当天最后一刻
func parseQueryDate(raw string, endOfDay bool, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
