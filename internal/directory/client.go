// Package directory предоставляет клиент для внешнего справочника сотрудников.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие со справочником сотрудников.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// EmployeeProfile описывает ответ справочника по одному сотруднику.
type EmployeeProfile struct {
	Email       string `json:"email"`
	Department  string `json:"department"`
	Designation string `json:"designation"`
}

// NewClient создаёт клиент справочника по указанному адресу.
// Временные сбои справочника ретраятся на уровне HTTP-клиента.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// GetEmployee запрашивает профиль сотрудника по почтовому адресу.
// Отсутствие сотрудника в справочнике не считается ошибкой: возвращается nil.
func (c *Client) GetEmployee(ctx context.Context, email string) (*EmployeeProfile, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("directory client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	addr := fmt.Sprintf("%s/api/employees/%s", base, url.PathEscape(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var profile EmployeeProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &profile, nil
}
