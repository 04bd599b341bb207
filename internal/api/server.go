package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cohortd/internal/classifier"
	"cohortd/internal/config"
	"cohortd/internal/model"
	"cohortd/internal/rules"
	"cohortd/internal/store"
)

// Server is the thin HTTP surface over the three membership query shapes,
// plus manual classification and the administrative add-rule call.
type Server struct {
	cfg        *config.Manager
	store      store.Store
	classifier *classifier.Classifier
	logger     *slog.Logger
	version    string
}

func Start(ctx context.Context, cfg *config.Manager, st store.Store, cl *classifier.Classifier, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{cfg: cfg, store: st, classifier: cl, logger: logger, version: version}
	mux := http.NewServeMux()
	mux.HandleFunc("/cohorts/check", server.handleCheck)
	mux.HandleFunc("/cohorts/customer/", server.handleCustomerCohorts)
	mux.HandleFunc("/cohorts/type/", server.handleCohortCustomers)
	mux.HandleFunc("/classify", server.handleClassify)
	mux.HandleFunc("/rules", server.handleRules)
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	customerID := strings.TrimSpace(r.URL.Query().Get("customerId"))
	if customerID == "" {
		writeError(w, http.StatusBadRequest, "customerId is required")
		return
	}
	cohort, err := model.ParseCohortType(r.URL.Query().Get("cohortType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := s.store.IsCustomerInCohort(r.Context(), customerID, cohort)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id": customerID,
		"cohort_type": cohort,
		"in_cohort":   in,
	})
}

func (s *Server) handleCustomerCohorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	customerID := strings.TrimPrefix(r.URL.Path, "/cohorts/customer/")
	if customerID == "" || strings.Contains(customerID, "/") {
		writeError(w, http.StatusBadRequest, "customer id is required")
		return
	}
	cohorts, err := s.store.CohortsByCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id":  customerID,
		"cohort_types": cohorts,
		"count":        len(cohorts),
	})
}

func (s *Server) handleCohortCustomers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/cohorts/type/")
	name, tail, found := strings.Cut(rest, "/")
	if !found || tail != "customers" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	cohort, err := model.ParseCohortType(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := s.store.CustomerIDsByCohort(r.Context(), cohort)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cohort_type":  cohort,
		"customer_ids": ids,
		"count":        len(ids),
	})
}

// handleClassify runs the pipeline synchronously for one customer payload:
// persist the snapshot, classify, return the matched set.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	var customer model.Customer
	if err := json.Unmarshal(body, &customer); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(customer.ID) == "" {
		writeError(w, http.StatusBadRequest, "customerId is required")
		return
	}
	if _, err := model.ParseUserType(string(customer.UserType)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveCustomer(r.Context(), customer); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cohorts := s.classifier.Classify(r.Context(), &customer)
	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id":  customer.ID,
		"cohort_types": cohorts,
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.classifier.Rules().Rules()
		out := make([]map[string]any, 0, len(list))
		for _, rule := range list {
			out = append(out, map[string]any{
				"name":        rule.Name,
				"cohort_type": rule.Cohort,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": out, "count": len(out)})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "cannot read body")
			return
		}
		var rc config.RuleConfig
		if err := json.Unmarshal(body, &rc); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rule, err := rules.FromRuleConfig(rc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.classifier.Rules().Add(rule)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"name":        rule.Name,
			"cohort_type": rule.Cohort,
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"time":         time.Now().UTC().Format(time.RFC3339Nano),
		"version":      s.version,
		"config_path":  s.cfg.Path(),
		"rule_count":   len(s.classifier.Rules().Rules()),
		"cohort_types": model.CohortTypes(),
		"queue":        map[string]any{"enabled": cfg.Queue.Enabled, "topic": cfg.Queue.Topic},
		"stream":       map[string]any{"enabled": cfg.Stream.Enabled},
		"scan":         map[string]any{"enabled": cfg.Scan.Enabled},
		"storage":      map[string]any{"driver": cfg.Storage.Driver},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
