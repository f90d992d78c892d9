package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"kassa/internal/external"
	"kassa/internal/models"
)

// Credentials - учетные данные для Basic Auth
type Credentials struct {
	Email    string
	Password string
}

// LifecycleValidator - проверка жизненного цикла заказа на работающем API
type LifecycleValidator struct {
	baseURL string
	admin   Credentials
	buyer   Credentials
	client  *http.Client
}

// NewLifecycleValidator создает новый валидатор
func NewLifecycleValidator(baseURL string, admin, buyer Credentials) *LifecycleValidator {
	return &LifecycleValidator{
		baseURL: baseURL,
		admin:   admin,
		buyer:   buyer,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidateAll creates a throwaway event, reserves and cancels an order on it
// and checks that capacity comes back. It leaves a closed event behind.
func (v *LifecycleValidator) ValidateAll() error {
	slog.Info("Начинаю проверку жизненного цикла заказа", "base_url", v.baseURL)

	if err := v.expect("GET", "/health", nil, nil, http.StatusOK, nil); err != nil {
		return err
	}

	eventID, typeID, err := v.createEvent()
	if err != nil {
		return fmt.Errorf("events validation failed: %w", err)
	}

	if err := v.validateOrder(eventID, typeID); err != nil {
		return fmt.Errorf("orders validation failed: %w", err)
	}

	if err := v.validateWebhook(); err != nil {
		return fmt.Errorf("payments validation failed: %w", err)
	}

	if err := v.expect("PATCH", "/api/events/"+eventID+"/status", &v.admin,
		models.UpdateEventStatusRequest{Status: models.EventClosed}, http.StatusOK, nil); err != nil {
		return err
	}

	slog.Info("✅ Жизненный цикл заказа прошел проверку")
	return nil
}

func (v *LifecycleValidator) createEvent() (string, string, error) {
	var created models.CreateEventResponse
	err := v.expect("POST", "/api/events", &v.admin, models.CreateEventRequest{
		Title:    "Проверка API " + time.Now().UTC().Format(time.RFC3339),
		StartsAt: time.Now().Add(24 * time.Hour).UTC(),
		TicketTypes: []models.CreateTicketTypeRequest{
			{Name: "Standard", Price: 1000, Currency: "KZT", Capacity: 5},
		},
	}, http.StatusCreated, &created)
	if err != nil {
		return "", "", err
	}
	if created.ID == "" || len(created.TicketTypes) != 1 {
		return "", "", fmt.Errorf("POST /api/events: unexpected response %+v", created)
	}

	if err := v.expect("PATCH", "/api/events/"+created.ID+"/status", &v.admin,
		models.UpdateEventStatusRequest{Status: models.EventOnSale}, http.StatusOK, nil); err != nil {
		return "", "", err
	}

	// buyers must not manage events
	if err := v.expect("POST", "/api/events", &v.buyer, models.CreateEventRequest{}, http.StatusForbidden, nil); err != nil {
		return "", "", err
	}

	return created.ID, created.TicketTypes[0], nil
}

func (v *LifecycleValidator) validateOrder(eventID, typeID string) error {
	var order models.CreateOrderResponse
	err := v.expect("POST", "/api/orders", &v.buyer, models.CreateOrderRequest{
		EventID: eventID,
		Items:   []models.OrderItemRequest{{TicketTypeID: typeID, Quantity: 2}},
	}, http.StatusCreated, &order)
	if err != nil {
		return err
	}
	if order.TotalAmount != 2000 {
		return fmt.Errorf("POST /api/orders: expected total 2000, got %d", order.TotalAmount)
	}

	if err := v.expectCapacity(eventID, 3, 2); err != nil {
		return err
	}

	// more than what is left
	if err := v.expect("POST", "/api/orders", &v.buyer, models.CreateOrderRequest{
		EventID: eventID,
		Items:   []models.OrderItemRequest{{TicketTypeID: typeID, Quantity: 4}},
	}, http.StatusConflict, nil); err != nil {
		return err
	}

	if err := v.expect("PATCH", "/api/orders/"+order.ID+"/cancel", &v.buyer, nil, http.StatusOK, nil); err != nil {
		return err
	}
	if err := v.expect("PATCH", "/api/orders/"+order.ID+"/cancel", &v.buyer, nil, http.StatusConflict, nil); err != nil {
		return err
	}

	return v.expectCapacity(eventID, 5, 0)
}

func (v *LifecycleValidator) expectCapacity(eventID string, available, reserved int) error {
	var details models.EventDetailsResponse
	if err := v.expect("GET", "/api/events/"+eventID, &v.buyer, nil, http.StatusOK, &details); err != nil {
		return err
	}
	if len(details.TicketTypes) != 1 {
		return fmt.Errorf("GET /api/events/%s: expected one ticket type, got %d", eventID, len(details.TicketTypes))
	}

	tt := details.TicketTypes[0]
	if tt.Available != available || tt.Reserved != reserved {
		return fmt.Errorf("GET /api/events/%s: expected available=%d reserved=%d, got available=%d reserved=%d",
			eventID, available, reserved, tt.Available, tt.Reserved)
	}
	return nil
}

func (v *LifecycleValidator) validateWebhook() error {
	body := []byte(`{"eventId":"probe","eventType":"payment.succeeded","orderId":"probe","transactionId":"probe","amount":"1","currency":"KZT"}`)

	req, err := http.NewRequest("POST", v.baseURL+"/api/payments/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(external.SignatureHeader, "t=1,v1=00")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("POST /api/payments/notifications with a forged signature: expected 400, got %d", resp.StatusCode)
	}
	return nil
}

// expect performs the request and decodes the response into out when the
// status matches.
func (v *LifecycleValidator) expect(method, path string, creds *Credentials, body any, status int, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, v.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds != nil {
		req.SetBasicAuth(creds.Email, creds.Password)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != status {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, status, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
		}
	}
	return nil
}
