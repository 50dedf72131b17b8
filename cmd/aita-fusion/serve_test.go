package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aitastack/aita-fusion/internal/services"
)

func TestHealthzReportsDegraded(t *testing.T) {
	svc := services.NewFusionService(nil, nil,
		services.HealthCheck{Name: "store", Check: func(context.Context) error { return errors.New("down") }},
	)
	rec := httptest.NewRecorder()
	newHTTPRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "DEGRADED")
}

func TestHealthzServing(t *testing.T) {
	svc := services.NewFusionService(nil, nil)
	rec := httptest.NewRecorder()
	newHTTPRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestFeedScheduleRequiresFeed(t *testing.T) {
	assert.Empty(t, feedSchedule("", "@every 30m"))
	assert.Equal(t, "@every 30m", feedSchedule("http://feed", "@every 30m"))
}
