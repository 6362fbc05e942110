package identityclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chapterhub/pkg/domain"
)

// Client calls the identity service over HTTP. It owns collaborator
// accounts and author attachments; the portal only issues lookups,
// provisioning requests, and attach requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents an identity service error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an identity service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Search looks identities up by DNI or name fragment.
func (c *Client) Search(token, term string) ([]domain.Identity, error) {
	path := fmt.Sprintf("%s/identities?q=%s", c.baseURL, url.QueryEscape(term))
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	addAuthHeader(req, token)

	var resp searchResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Create provisions a minimal identity. The DNI serves as both identifier
// and initial placeholder credential on the remote side.
func (c *Client) Create(token string, fields domain.AuthorInvitation) (domain.Identity, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return domain.Identity{}, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/identities", bytes.NewReader(body))
	if err != nil {
		return domain.Identity{}, err
	}
	addAuthHeader(req, token)
	req.Header.Set("Content-Type", "application/json")

	var identity domain.Identity
	if err := c.do(req, &identity); err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}

// Attach links a collaborator to a book or chapter. The invitation fields
// ride along so user edits made after resolution reach the remote record;
// the call is idempotent on (targetID, collaboratorID).
func (c *Client) Attach(token, targetID, collaboratorID string, fields domain.AuthorInvitation) error {
	payload := attachRequest{
		CollaboratorID: collaboratorID,
		DNI:            fields.DNI,
		Email:          fields.Email,
		FirstName:      fields.FirstName,
		LastName:       fields.LastName,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/targets/%s/authors", c.baseURL, targetID)
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	addAuthHeader(req, token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
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

type searchResponse struct {
	Items []domain.Identity `json:"items"`
	Count int               `json:"count"`
}

type attachRequest struct {
	CollaboratorID string `json:"collaboratorId"`
	DNI            string `json:"dni"`
	Email          string `json:"email"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
}
