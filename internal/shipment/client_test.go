package shipment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateShipment_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/shipments" {
			t.Fatalf("path = %s, want /api/shipments", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer courier-token" {
			t.Fatalf("authorization = %q, want Bearer courier-token", r.Header.Get("Authorization"))
		}

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.OrderID != "ord-1" {
			t.Fatalf("order id = %q, want ord-1", req.OrderID)
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Shipment{
			ShipmentID:   "shp-1",
			TrackingCode: "TRK123",
			CourierName:  "fastcourier",
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "courier-token")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s, err := client.CreateShipment(ctx, CreateRequest{
		OrderID:         "ord-1",
		PickupAddress:   "warehouse 1",
		DeliveryAddress: "buyer address",
	})
	if err != nil {
		t.Fatalf("CreateShipment error: %v", err)
	}
	if s.ShipmentID != "shp-1" || s.TrackingCode != "TRK123" {
		t.Fatalf("unexpected shipment: %+v", s)
	}
}

func TestCreateShipment_RetriesServerErrors(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Shipment{ShipmentID: "shp-1"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "courier-token")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := client.CreateShipment(ctx, CreateRequest{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("CreateShipment error: %v", err)
	}
	if s.ShipmentID != "shp-1" {
		t.Fatalf("shipment id = %q, want shp-1", s.ShipmentID)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestCreateShipment_NotConfigured(t *testing.T) {
	client := &Client{}

	if _, err := client.CreateShipment(context.Background(), CreateRequest{OrderID: "ord-1"}); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
