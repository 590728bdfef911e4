package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"readiness/internal/illness"
	"readiness/internal/service"
	"readiness/internal/store"
)

// DailyView is the JSON form of a daily record
type DailyView struct {
	Date            string         `json:"date"`
	Recovery        *int           `json:"recovery"`
	RecoveryBand    string         `json:"recovery_band,omitempty"`
	Sleep           *int           `json:"sleep"`
	SleepBand       string         `json:"sleep_band,omitempty"`
	StressAcute     *int           `json:"stress_acute"`
	StressChronic   *int           `json:"stress_chronic"`
	StressBand      string         `json:"stress_band,omitempty"`
	StressThreshold float64        `json:"stress_threshold"`
	StressAlert     bool           `json:"stress_alert"`
	Components      map[string]int `json:"components"`
	Load            LoadView       `json:"training_load"`
	IllnessSeverity string         `json:"illness_severity,omitempty"`
	Brief           string         `json:"brief,omitempty"`
	ComputedAt      time.Time      `json:"computed_at"`
}

// LoadView is the training load part of a DailyView
type LoadView struct {
	CTL           float64 `json:"ctl"`
	ATL           float64 `json:"atl"`
	TSB           float64 `json:"tsb"`
	Method        string  `json:"method"`
	LowConfidence bool    `json:"low_confidence"`
	RecentStrain  float64 `json:"recent_strain"`
	Form          string  `json:"form"`
}

// NewDailyView converts a stored record
func NewDailyView(rec *store.DailyRecord) DailyView {
	return DailyView{
		Date:            rec.Date,
		Recovery:        rec.Recovery,
		RecoveryBand:    rec.RecoveryBand,
		Sleep:           rec.Sleep,
		SleepBand:       rec.SleepBand,
		StressAcute:     rec.StressAcute,
		StressChronic:   rec.StressChronic,
		StressBand:      rec.StressBand,
		StressThreshold: rec.StressThreshold,
		StressAlert:     rec.StressAlert,
		Components:      rec.Components,
		Load: LoadView{
			CTL:           rec.CTL,
			ATL:           rec.ATL,
			TSB:           rec.TSB,
			Method:        rec.LoadMethod,
			LowConfidence: rec.LoadLowConfidence,
			RecentStrain:  rec.RecentStrain,
			Form:          rec.FormDescription,
		},
		IllnessSeverity: rec.IllnessSeverity,
		Brief:           rec.Brief,
		ComputedAt:      rec.ComputedAt,
	}
}

// IllnessView is the JSON form of the detector state
type IllnessView struct {
	Status     string           `json:"status"`
	State      string           `json:"state"`
	Severity   string           `json:"severity,omitempty"`
	Confidence float64          `json:"confidence"`
	Signals    []illness.Signal `json:"signals,omitempty"`
	AnalyzedAt *time.Time       `json:"analyzed_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// passError maps pipeline errors onto HTTP statuses.
func passError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrPassInFlight):
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrPassTimeout):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, store.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "no record for that date")
	default:
		log.Error().Err(err).Msg("daily request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	rec, err := s.daily.Calculate(r.Context(), false)
	if err != nil {
		passError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewDailyView(rec))
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	rec, err := s.daily.Calculate(r.Context(), true)
	if err != nil {
		passError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewDailyView(rec))
}

func validDate(s string) bool {
	_, err := time.Parse(store.DateLayout, s)
	return err == nil
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if !validDate(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	rec, err := s.daily.Record(r.Context(), date)
	if err != nil {
		passError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewDailyView(rec))
}

const maxHistoryDays = 366

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := q.Get("to")
	if to == "" {
		to = time.Now().Format(store.DateLayout)
	}
	from := q.Get("from")
	if from == "" {
		days := 30
		if v := q.Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > maxHistoryDays {
				writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
				return
			}
			days = n
		}
		end, err := time.Parse(store.DateLayout, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		from = end.AddDate(0, 0, -(days - 1)).Format(store.DateLayout)
	}
	if !validDate(from) || !validDate(to) || from > to {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD with from <= to")
		return
	}

	recs, err := s.daily.History(r.Context(), from, to)
	if err != nil {
		passError(w, err)
		return
	}
	views := make([]DailyView, 0, len(recs))
	for i := range recs {
		views = append(views, NewDailyView(&recs[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleIllness(w http.ResponseWriter, r *http.Request) {
	force := strings.EqualFold(r.URL.Query().Get("force"), "true")
	ind, err := s.illness.Analyze(r.Context(), force)
	if err != nil && !errors.Is(err, illness.ErrNotAnalyzed) {
		passError(w, err)
		return
	}

	view := IllnessView{Status: s.illness.Status().String(), State: s.illness.State().String()}
	if ind != nil {
		at := ind.AnalyzedAt
		view.Severity = string(ind.Severity)
		view.Confidence = ind.Confidence
		view.Signals = ind.Signals
		view.AnalyzedAt = &at
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleIllnessInvalidate(w http.ResponseWriter, r *http.Request) {
	s.illness.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// localOrigin accepts requests without an Origin and browser pages served
// from this machine.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

const writeWait = 10 * time.Second

// handleEvents streams each published daily record over a websocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.daily.Subscribe()
	defer cancel()

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingTick)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(NewDailyView(ev.Record)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
