package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"spin-rewards/internal/auth"
	"spin-rewards/internal/config"
	"spin-rewards/internal/engine"
	"spin-rewards/internal/middleware"
	"spin-rewards/internal/models"
	"spin-rewards/internal/quota"
	"spin-rewards/internal/store"
)

type Handler struct {
	cfg    *config.Config
	engine *engine.Service
	store  store.Store
	jwt    *auth.Manager
	logger *slog.Logger
}

func NewHandler(cfg *config.Config, svc *engine.Service, st store.Store, jwt *auth.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		engine: svc,
		store:  st,
		jwt:    jwt,
		logger: logger,
	}
}

// RegisterRoutes mounts the public action endpoint and, when a JWT manager is
// configured, the admin group. OPTIONS is answered by the CORS middleware
// before routing, so only POST needs a route here.
func RegisterRoutes(r *gin.Engine, h *Handler, jwt *auth.Manager, adminIPs []string) {
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		respondFail(c, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NoRoute(func(c *gin.Context) {
		respondFail(c, http.StatusNotFound, "not found")
	})

	r.GET("/api/health", h.Health)
	r.POST("/api/actions", h.Actions)

	if jwt == nil {
		return
	}

	admin := r.Group("/api/admin")
	admin.Use(middleware.AdminIPWhitelist(adminIPs))
	admin.POST("/login", h.AdminLogin)

	adminProtected := admin.Group("/")
	adminProtected.Use(middleware.JWT(jwt), middleware.RequireRole("admin"))
	adminProtected.GET("/withdrawals", h.AdminListWithdrawals)
	adminProtected.GET("/users", h.AdminListUsers)
	adminProtected.GET("/wheel", h.AdminGetWheel)
	adminProtected.PUT("/wheel", h.AdminUpdateWheel)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

func respondFail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"ok": false, "error": message})
}

// actionRequest is the union of fields across all action types; each case
// reads only what its type requires.
type actionRequest struct {
	Type        models.ActionType `json:"type"`
	UserID      int64             `json:"user_id"`
	ReferrerID  *int64            `json:"referrer_id"`
	RefereeID   int64             `json:"referee_id"`
	InitData    string            `json:"init_data"`
	Destination string            `json:"destination"`
	Amount      decimal.Decimal   `json:"amount"`
}

// Actions is the single public endpoint. The body carries a type
// discriminator; responses use the {"ok":…} envelope with a data object on
// success and a message on failure.
func (h *Handler) Actions(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx := c.Request.Context()

	switch req.Type {
	case models.ActionRegister:
		created, err := h.engine.Register(ctx, req.UserID, req.ReferrerID)
		if err != nil {
			h.respondActionError(c, req, err)
			return
		}
		respondOK(c, gin.H{"created": created})

	case models.ActionGetUserData:
		snap, err := h.engine.GetUserData(ctx, req.UserID)
		if err != nil {
			h.respondActionError(c, req, err)
			return
		}
		respondOK(c, snap)

	case models.ActionWatchAd:
		account, err := h.engine.WatchAd(ctx, req.UserID, req.InitData)
		if err != nil {
			h.respondActionError(c, req, err)
			return
		}
		respondOK(c, gin.H{
			"balance":  account.Balance,
			"adsToday": account.AdsToday,
			"reward":   h.cfg.AdReward,
		})

	case models.ActionSpin:
		account, err := h.engine.Spin(ctx, req.UserID, req.InitData)
		if err != nil {
			h.respondActionError(c, req, err)
			return
		}
		left := h.cfg.DailySpinMax - account.SpinsToday
		if left < 0 {
			left = 0
		}
		respondOK(c, gin.H{
			"spinsToday": account.SpinsToday,
			"spinsLeft":  left,
		})

	case models.ActionSpinResult:
		account, prize, err := h.engine.SpinResult(ctx, req.UserID, req.InitData)
		if err != nil {
			h.respondActionError(c, req, err)
			return
		}
		respondOK(c, gin.H{
			"prize":   prize,
			"balance": account.Balance,
		})

	case models.ActionCommission:
		var referrerID int64
		if req.ReferrerID != nil {
			referrerID = *req.ReferrerID
		}
		account, err := h.engine.Commission(ctx, referrerID, req.RefereeID)
		if err != nil {
			h.respondActionError(c, req, err)
			return
		}
		respondOK(c, gin.H{"balance": account.Balance})

	case models.ActionWithdraw:
		account, w, err := h.engine.Withdraw(ctx, req.UserID, req.Destination, req.Amount, req.InitData)
		if err != nil {
			h.respondActionError(c, req, err)
			return
		}
		respondOK(c, gin.H{
			"balance":    account.Balance,
			"withdrawal": w,
		})

	default:
		respondFail(c, http.StatusBadRequest, fmt.Sprintf("unknown action type %q", req.Type))
	}
}

// respondActionError maps domain failures onto the response envelope. Auth
// rejections deliberately reuse the bare sentinel message so clients cannot
// probe which check failed; everything else keeps its specific reason.
func (h *Handler) respondActionError(c *gin.Context, req actionRequest, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		respondFail(c, http.StatusForbidden, auth.ErrUnauthenticated.Error())
	case errors.Is(err, quota.ErrExceeded):
		h.logger.Info("action rejected", "type", req.Type, "user_id", req.UserID, "reason", err)
		respondFail(c, http.StatusForbidden, err.Error())
	case errors.Is(err, engine.ErrInsufficientBalance):
		h.logger.Info("action rejected", "type", req.Type, "user_id", req.UserID, "reason", err)
		respondFail(c, http.StatusForbidden, err.Error())
	case errors.Is(err, engine.ErrValidation):
		h.logger.Info("action rejected", "type", req.Type, "user_id", req.UserID, "reason", err)
		respondFail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		h.logger.Info("action rejected", "type", req.Type, "user_id", req.UserID, "reason", err)
		respondFail(c, http.StatusNotFound, "user not found")
	default:
		h.logger.Error("action failed", "type", req.Type, "user_id", req.UserID, "error", err)
		respondFail(c, http.StatusInternalServerError, "internal error")
	}
}

type adminLoginRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.Password != h.cfg.AdminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if ok := totp.Validate(req.Code, h.cfg.AdminTOTPSecret); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp"})
		return
	}
	token, err := h.jwt.IssueToken("admin", "admin", 4*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// AdminListWithdrawals is the back office's read of payout requests. Status
// transitions happen in the back office itself, never here.
func (h *Handler) AdminListWithdrawals(c *gin.Context) {
	limit, offset := parsePagination(c, 50, 0)
	status := models.WithdrawalStatus(c.Query("status"))
	rows, err := h.store.ListWithdrawalsByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("admin list withdrawals failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to read withdrawals"})
		return
	}
	if rows == nil {
		rows = []models.Withdrawal{}
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": rows})
}

func (h *Handler) AdminListUsers(c *gin.Context) {
	limit, offset := parsePagination(c, 50, 0)
	accounts, err := h.store.ListAccounts(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("admin list users failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to read users"})
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	c.JSON(http.StatusOK, gin.H{"users": accounts})
}

func (h *Handler) AdminGetWheel(c *gin.Context) {
	sectors, err := h.engine.Sectors(c.Request.Context())
	if err != nil {
		h.logger.Error("wheel read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to read wheel config"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sectors": sectors})
}

type wheelUpdateRequest struct {
	Sectors []decimal.Decimal `json:"sectors"`
}

func (h *Handler) AdminUpdateWheel(c *gin.Context) {
	var req wheelUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := validateSectors(req.Sectors); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.UpdateSectors(c.Request.Context(), req.Sectors); err != nil {
		h.logger.Error("wheel update failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to save wheel config"})
		return
	}
	actor := "unknown"
	if claims := middleware.ClaimsFromContext(c); claims != nil {
		actor = claims.Subject
	}
	h.logger.Info("wheel config saved", "admin", actor, "sectors", len(req.Sectors))
	c.JSON(http.StatusOK, gin.H{"updated": len(req.Sectors)})
}

func validateSectors(sectors []decimal.Decimal) error {
	if len(sectors) == 0 {
		return errors.New("at least one sector is required")
	}
	for _, s := range sectors {
		if s.Sign() < 0 {
			return fmt.Errorf("negative sector value %s", s)
		}
	}
	return nil
}

func parsePagination(c *gin.Context, defaultLimit, defaultOffset int) (int, int) {
	limit := defaultLimit
	offset := defaultOffset
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
