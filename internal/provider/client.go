// Package provider предоставляет клиент для внешнего сервиса накрутки.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с панелью провайдера.
type Client struct {
	apiURL string
	apiKey string
	retry  *retryablehttp.Client
}

// CreateResult описывает успешный ответ провайдера на создание заказа.
type CreateResult struct {
	OrderID string
}

// StatusResult описывает ответ провайдера на запрос статуса заказа.
type StatusResult struct {
	Status string
}

// NewClient создаёт HTTP-клиент для обращения к панели провайдера.
func NewClient(apiURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 5 * time.Second

	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		retry:  rc,
	}
}

type apiResponse struct {
	Order  json.Number `json:"order"`
	Status string      `json:"status"`
	Error  string      `json:"error"`
}

// CreateOrder отправляет заявку на создание заказа. Запрос не ретраится:
// повтор после сетевого сбоя мог бы создать дубль на стороне провайдера.
func (c *Client) CreateOrder(ctx context.Context, serviceID, link string, quantity int) (*CreateResult, error) {
	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("action", "add")
	form.Set("service", serviceID)
	form.Set("link", link)
	form.Set("quantity", strconv.Itoa(quantity))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.retry.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if body.Error != "" {
		return nil, fmt.Errorf("provider error: %s", body.Error)
	}
	if body.Order.String() == "" {
		return nil, fmt.Errorf("provider response has no order id")
	}

	return &CreateResult{OrderID: body.Order.String()}, nil
}

// OrderStatus запрашивает текущий статус заказа. Запрос идемпотентный,
// поэтому идёт через ретраящий клиент.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*StatusResult, error) {
	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("action", "status")
	form.Set("order", orderID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.retry.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if body.Error != "" {
		return nil, fmt.Errorf("provider error: %s", body.Error)
	}
	if body.Status == "" {
		return nil, fmt.Errorf("provider response has no status")
	}

	return &StatusResult{Status: body.Status}, nil
}
