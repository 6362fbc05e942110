package editionclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chapterhub/pkg/domain"
)

// Client calls the editorial-management service over HTTP. It owns editions
// and per-author submission credits; this portal only reads them.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents an edition service error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an edition service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetEdition fetches an edition with its configured dates.
func (c *Client) GetEdition(token, id string) (domain.Edition, error) {
	path := fmt.Sprintf("%s/editions/%s", c.baseURL, id)
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return domain.Edition{}, err
	}
	addAuthHeader(req, token)

	var ed domain.Edition
	if err := c.do(req, &ed); err != nil {
		return domain.Edition{}, err
	}
	return ed, nil
}

// AvailableCredits reads the remaining submission allowance for an author in
// an edition. The balance is owned by the remote service; callers must
// re-read it per action because another session may consume it concurrently.
func (c *Client) AvailableCredits(token, authorID, editionID string) (int, error) {
	path := fmt.Sprintf("%s/editions/%s/credits/%s", c.baseURL, editionID, authorID)
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	addAuthHeader(req, token)

	var resp creditsResponse
	if err := c.do(req, &resp); err != nil {
		return 0, err
	}
	if resp.Available < 0 {
		return 0, nil
	}
	return resp.Available, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func addAuthHeader(req *http.Request, token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

type creditsResponse struct {
	Available int `json:"available"`
}
