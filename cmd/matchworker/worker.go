package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// driverPicker is what the worker needs from the match service.
type driverPicker interface {
	PickDriver(req models.RideRequest) (models.DriverPosition, bool)
}

// dispatchPoster hands a matched (booking, driver) pair back to the API.
type dispatchPoster interface {
	PostDispatch(ctx context.Context, bookingID, driverID string) error
}

func handleRequest(ctx context.Context, svc driverPicker, poster dispatchPoster, req models.RideRequest, logger *slog.Logger) {
	pos, ok := svc.PickDriver(req)
	if !ok {
		matchesNone.Inc()
		logger.Info("no candidates for fallback request", "booking_id", req.BookingID)
		return
	}
	if err := postWithRetry(ctx, poster, req.BookingID, pos.DriverID, 3, 200*time.Millisecond); err != nil {
		dispatchErrors.Inc()
		logger.Warn("dispatch post failed", "booking_id", req.BookingID, "driver_id", pos.DriverID, "error", err)
		return
	}
	matchesFound.Inc()
	logger.Info("fallback dispatch posted", "booking_id", req.BookingID, "driver_id", pos.DriverID)
}

// postWithRetry posts the dispatch with exponential backoff.
func postWithRetry(ctx context.Context, poster dispatchPoster, bookingID, driverID string, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = poster.PostDispatch(ctx, bookingID, driverID); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

type httpPoster struct {
	serverURL string
	client    *http.Client
}

func (p *httpPoster) PostDispatch(ctx context.Context, bookingID, driverID string) error {
	body, _ := json.Marshal(map[string]string{"booking_id": bookingID, "driver_id": driverID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/internal/dispatch", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch post status %d", resp.StatusCode)
	}
	return nil
}
