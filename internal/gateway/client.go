package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"campaign-gateway/internal/config"
)

// Client talks to the Meta Graph API messages endpoint. It is constructed in
// main and injected wherever outbound submissions happen.
type Client struct {
	cfg     *config.Config
	http    *http.Client
	baseURL string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.SubmitTimeout},
		baseURL: cfg.GatewayBaseURL,
	}
}

// --- Message Structures ---

type OutboundMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	Text             *TextObj     `json:"text,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextMessage builds a plain text submission.
func TextMessage(to, body string) OutboundMessage {
	return OutboundMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &TextObj{Body: body},
	}
}

// TemplateMessage builds a template submission with body parameters in
// placeholder order.
func TemplateMessage(to, templateName, languageCode string, bodyParams []string) OutboundMessage {
	tpl := &TemplateObj{
		Name:     templateName,
		Language: LanguageObj{Code: languageCode},
	}
	if len(bodyParams) > 0 {
		params := make([]ParameterObj, len(bodyParams))
		for i, p := range bodyParams {
			params[i] = ParameterObj{Type: "text", Text: p}
		}
		tpl.Components = []ComponentObj{{Type: "body", Parameters: params}}
	}
	return OutboundMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         tpl,
	}
}

// --- Errors ---

// RejectionError is a terminal per-message failure: the gateway refused the
// submission (invalid number, template mismatch). Not retried.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gateway rejection (code %d): %s", e.Code, e.Message)
}

// TransientError wraps network failures, timeouts and 5xx responses. The
// dispatch engine retries these with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient gateway error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// --- API calls ---

type submitResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit posts one message and returns the gateway-assigned message id.
// Errors are either *RejectionError or *TransientError.
func (c *Client) Submit(ctx context.Context, msg OutboundMessage) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.cfg.PhoneNumberID)

	respBody, status, err := c.sendRequest(ctx, "POST", url, msg)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	if status >= 500 {
		return "", &TransientError{Err: fmt.Errorf("gateway returned %d: %s", status, string(respBody))}
	}
	if status >= 400 {
		var apiErr apiError
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			return "", &RejectionError{Code: apiErr.Error.Code, Message: apiErr.Error.Message}
		}
		return "", &RejectionError{Code: status, Message: string(respBody)}
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(resp.Messages) == 0 {
		return "", &TransientError{Err: fmt.Errorf("gateway accepted but returned no message id")}
	}
	return resp.Messages[0].ID, nil
}

// RemoteTemplate is the platform's view of a template, used during sync.
type RemoteTemplate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

type templateListResponse struct {
	Data []RemoteTemplate `json:"data"`
}

// ListTemplates fetches the templates registered under the business account,
// including their review status.
func (c *Client) ListTemplates(ctx context.Context) ([]RemoteTemplate, error) {
	url := fmt.Sprintf("%s/%s/message_templates", c.baseURL, c.cfg.BusinessAccountID)

	respBody, status, err := c.sendRequest(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("list templates: gateway returned %d: %s", status, string(respBody))
	}

	var resp templateListResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode template list: %w", err)
	}
	return resp.Data, nil
}

func (c *Client) sendRequest(ctx context.Context, method, url string, body interface{}) ([]byte, int, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.GatewayToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	return respBody, resp.StatusCode, nil
}
