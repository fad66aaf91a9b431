package admin

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"tierbot/logs"
	"tierbot/position"
	"tierbot/profit"
	"tierbot/risk"
)

type statusResponse struct {
	RiskLevel     string              `json:"risk_level"`
	Risk          risk.State          `json:"risk"`
	OpenPositions []position.Position `json:"open_positions"`
	Profit        profit.Summary      `json:"profit"`
	LastCycle     *cycleStatus        `json:"last_cycle,omitempty"`
}

type cycleStatus struct {
	At              string         `json:"at"`
	Phase           string         `json:"phase"`
	Scanned         int            `json:"scanned"`
	Approved        int            `json:"approved"`
	Denied          int            `json:"denied"`
	Executed        int            `json:"executed"`
	ExecutionErrors int            `json:"execution_errors"`
	Exits           int            `json:"exits"`
	Errors          int            `json:"errors"`
	DenialsByReason map[string]int `json:"denials_by_reason,omitempty"`
	DurationMs      int64          `json:"duration_ms"`
}

type killSwitchRequest struct {
	Engaged *bool `json:"engaged"`
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func (s *Server) status(c echo.Context) error {
	snap := s.deps.Guard.Snapshot()
	resp := statusResponse{
		RiskLevel:     s.deps.Guard.Levels().Evaluate(snap).String(),
		Risk:          snap,
		OpenPositions: s.deps.Book.All(),
		Profit:        s.deps.Accountant.Summary(),
	}
	if s.deps.LastCycle != nil {
		if last := s.deps.LastCycle(); !last.At.IsZero() {
			denials := make(map[string]int, len(last.DenialsByReason))
			for reason, n := range last.DenialsByReason {
				denials[string(reason)] = n
			}
			resp.LastCycle = &cycleStatus{
				At:              last.At.Format(time.RFC3339),
				Phase:           string(last.Phase),
				Scanned:         last.Scanned,
				Approved:        last.Approved,
				Denied:          last.Denied,
				Executed:        last.Executed,
				ExecutionErrors: last.ExecutionErrors,
				Exits:           last.Exits,
				Errors:          last.Errors,
				DenialsByReason: denials,
				DurationMs:      last.Duration.Milliseconds(),
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) killSwitch(c echo.Context) error {
	var req killSwitchRequest
	if err := c.Bind(&req); err != nil || req.Engaged == nil {
		return c.JSON(http.StatusBadRequest, errorBody(`body must be {"engaged": true|false}`))
	}
	s.deps.Guard.SetKillSwitch(*req.Engaged)
	logs.Warnf("[Admin] Kill switch set to %t by operator", *req.Engaged)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"kill_switch": *req.Engaged,
		"risk_level":  s.deps.Guard.Level().String(),
	})
}

func (s *Server) resetDay(c echo.Context) error {
	day := s.deps.Session.TradingDay(s.now())
	equity := s.deps.Guard.Snapshot().Equity
	if s.deps.Equity != nil {
		if eq := s.deps.Equity.Equity(); eq > 0 {
			equity = eq
		}
	}
	s.deps.Guard.ResetDay(day, equity)
	s.deps.Accountant.ResetDay()
	logs.Warnf("[Admin] Daily risk counters reset by operator for %s", day)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"trading_day": day,
		"risk_level":  s.deps.Guard.Level().String(),
	})
}
