package web

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	lo "github.com/samber/lo"

	"ke-billing/command/bootstrap"
	"ke-billing/connectors/store"
	"ke-billing/domain/billing"
)

// Reader is the store surface the API serves.
type Reader interface {
	Ping(ctx context.Context) error
	ListDaily(ctx context.Context, date string) ([]store.DailyRecord, error)
	ListBaselines(ctx context.Context) ([]store.BaselineRecord, error)
	ListAnomalies(ctx context.Context, f store.AnomalyFilter) ([]store.StoredAnomaly, error)
	SetAnomalyStatus(ctx context.Context, id int64, status store.AnomalyStatus) error
}

// Run starts a small Echo web server exposing the stored billing data as JSON.
//
// Usage:
//
//	ke-billing web [-config ./config.yml] [-addr :8080]
//
// Endpoints:
//
//	GET  /healthz
//	GET  /api/daily?date=YYYYMMDD         -> daily summaries of date
//	GET  /api/baselines                   -> every baseline
//	GET  /api/anomalies?date=&status=     -> anomalies, newest first
//	POST /api/anomalies/:id/status        -> {"status":"ACKNOWLEDGED"}
func Run(args []string) error {
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "config file (default $CONFIG_PATH or ./config.yml)")
	addr := fs.String("addr", "", "http listen address (default web.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := bootstrap.Load(*configPath, false)
	if err != nil {
		return err
	}
	defer env.Close()
	if *addr == "" {
		*addr = env.Config.Web.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := env.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	e := NewServer(st, env.Logger)
	e.HideBanner = true

	errCh := make(chan error, 1)
	go func() {
		env.Logger.Info("web.start", "addr", *addr)
		errCh <- e.Start(*addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	env.Logger.Info("web.stop")
	return e.Shutdown(shutdownCtx)
}

// NewServer registers the API routes on a new Echo instance.
func NewServer(r Reader, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("web.request.error", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("web.request", attrs...)
			return nil
		},
	}))

	h := &handlers{r: r}
	e.GET("/healthz", h.health)
	e.GET("/api/daily", h.daily)
	e.GET("/api/baselines", h.baselines)
	e.GET("/api/anomalies", h.anomalies)
	e.POST("/api/anomalies/:id/status", h.setStatus)
	return e
}

type handlers struct {
	r Reader
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]any{"error": msg})
}

func (h *handlers) health(c echo.Context) error {
	if err := h.r.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
}

func (h *handlers) daily(c echo.Context) error {
	date := c.QueryParam("date")
	if !billing.ValidDate(date) {
		return errorJSON(c, http.StatusBadRequest, "date must be YYYYMMDD")
	}
	rows, err := h.r.ListDaily(c.Request().Context(), date)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	total := lo.SumBy(rows, func(d store.DailyRecord) float64 { return d.ExpectAmount })
	return c.JSON(http.StatusOK, map[string]any{
		"date":      date,
		"total":     total,
		"summaries": rows,
	})
}

func (h *handlers) baselines(c echo.Context) error {
	rows, err := h.r.ListBaselines(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *handlers) anomalies(c echo.Context) error {
	var f store.AnomalyFilter
	if date := c.QueryParam("date"); date != "" {
		if !billing.ValidDate(date) {
			return errorJSON(c, http.StatusBadRequest, "date must be YYYYMMDD")
		}
		f.Date = date
	}
	if status := c.QueryParam("status"); status != "" {
		st, err := store.ParseStatus(status)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		f.Status = st
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		f.Limit = n
	}

	rows, err := h.r.ListAnomalies(c.Request().Context(), f)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, lo.Map(rows, func(a store.StoredAnomaly, _ int) anomalyView { return newAnomalyView(a) }))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *handlers) setStatus(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "id must be an integer")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid body")
	}
	status, err := store.ParseStatus(req.Status)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	err = h.r.SetAnomalyStatus(c.Request().Context(), id, status)
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "anomaly not found")
	}
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "status": status})
}

// jsonFloat renders +Inf as the string "Infinity"; plain JSON has no infinity.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 1) {
		return []byte(`"Infinity"`), nil
	}
	return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
}

type anomalyView struct {
	store.StoredAnomaly
	ZScore         jsonFloat `json:"zScore"`
	DeviationRatio jsonFloat `json:"deviationRatio"`
}

func newAnomalyView(a store.StoredAnomaly) anomalyView {
	return anomalyView{
		StoredAnomaly:  a,
		ZScore:         jsonFloat(a.ZScore),
		DeviationRatio: jsonFloat(a.DeviationRatio),
	}
}
