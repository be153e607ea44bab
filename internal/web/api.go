package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/katieblackabee/fastchecks/internal/storage"
	"github.com/katieblackabee/fastchecks/internal/validate"
)

type APIResponse struct {
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type CheckInput struct {
	URL             string `json:"url"`
	Pattern         string `json:"pattern,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
}

const defaultResultLimit = 100

func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) HandleListChecks(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		checks []storage.ScheduledCheck
		err    error
	)
	if l := c.QueryParam("limit"); l != "" {
		n, perr := positiveQuery(l, "limit")
		if perr != nil {
			return s.fail(c, perr)
		}
		checks, err = s.runner.Checks().ReadN(ctx, n)
	} else {
		checks, err = s.runner.Checks().ReadAll(ctx)
	}
	if err != nil {
		return s.fail(c, err)
	}
	if checks == nil {
		checks = []storage.ScheduledCheck{}
	}
	return c.JSON(http.StatusOK, APIResponse{Data: checks})
}

func (s *Server) HandleUpsertCheck(c echo.Context) error {
	var input CheckInput
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, APIResponse{Error: "Invalid request body"})
	}

	check, err := storage.NewCheck(input.URL, input.Pattern, s.limits)
	if err != nil {
		return s.fail(c, err)
	}
	scheduled, err := storage.NewScheduledCheck(check, time.Duration(input.IntervalSeconds)*time.Second, s.limits)
	if err != nil {
		return s.fail(c, err)
	}

	if _, err := s.runner.Checks().Upsert(c.Request().Context(), scheduled); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, APIResponse{Data: scheduled})
}

func (s *Server) HandleDeleteCheck(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" {
		return c.JSON(http.StatusBadRequest, APIResponse{Error: "url is required"})
	}

	n, err := s.runner.Checks().Delete(c.Request().Context(), url)
	if err != nil {
		return s.fail(c, err)
	}
	if n == 0 {
		return c.JSON(http.StatusNotFound, APIResponse{Error: "Check not found"})
	}
	return c.JSON(http.StatusOK, APIResponse{Data: map[string]int64{"deleted": n}})
}

func (s *Server) HandleDeleteAllChecks(c echo.Context) error {
	// Without confirm=true this is a no-op reporting zero deletions.
	confirm, _ := strconv.ParseBool(c.QueryParam("confirm"))

	n, err := s.runner.Checks().DeleteAll(c.Request().Context(), confirm)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, APIResponse{Data: map[string]int64{"deleted": n}})
}

// HandleRunCheck executes a check once. With write=true the result is stored.
func (s *Server) HandleRunCheck(c echo.Context) error {
	var input CheckInput
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, APIResponse{Error: "Invalid request body"})
	}
	check, err := storage.NewCheck(input.URL, input.Pattern, s.limits)
	if err != nil {
		return s.fail(c, err)
	}

	ctx := c.Request().Context()
	write, _ := strconv.ParseBool(c.QueryParam("write"))
	if !write {
		return c.JSON(http.StatusOK, APIResponse{Data: s.runner.CheckOnly(ctx, check)})
	}

	result, err := s.runner.CheckAndWrite(ctx, check)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, APIResponse{Data: result})
}

func (s *Server) HandleListResults(c echo.Context) error {
	n := defaultResultLimit
	if v := c.QueryParam("n"); v != "" {
		parsed, err := positiveQuery(v, "n")
		if err != nil {
			return s.fail(c, err)
		}
		n = parsed
	}

	results, err := s.runner.Results().ReadLastN(c.Request().Context(), n)
	if err != nil {
		return s.fail(c, err)
	}
	if results == nil {
		results = []storage.CheckResult{}
	}
	return c.JSON(http.StatusOK, APIResponse{Data: results})
}

func positiveQuery(v, name string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", validate.ErrInvalidInput, name)
	}
	return validate.PositiveInt(name, n)
}

// fail maps validation errors to 400 and everything else to 500.
func (s *Server) fail(c echo.Context, err error) error {
	if errors.Is(err, validate.ErrInvalidInput) {
		return c.JSON(http.StatusBadRequest, APIResponse{Error: err.Error()})
	}
	s.logger.Error("api_error", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, APIResponse{Error: err.Error()})
}
