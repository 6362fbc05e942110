package chapterclient

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"chapterhub/pkg/domain"
)

// Client calls the chapter service over HTTP. Chapter creation is the unit
// of atomicity for a submission: one call, all-or-nothing.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a chapter service error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a chapter service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateChapter submits a fully validated draft and returns the new
// chapter's ID. The remote side consumes one submission credit; a
// rejection for an exhausted balance is an expected error, not a defect.
func (c *Client) CreateChapter(token string, draft domain.ChapterDraft, authorID, bookID string) (string, error) {
	payload := createRequest{
		Draft:    draft,
		AuthorID: authorID,
		BookID:   bookID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/chapters", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	addAuthHeader(req, token)
	req.Header.Set("Content-Type", "application/json")

	var resp createResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.ChapterID, nil
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

type createRequest struct {
	Draft    domain.ChapterDraft `json:"draft"`
	AuthorID string              `json:"authorId"`
	BookID   string              `json:"bookId"`
}

type createResponse struct {
	ChapterID string `json:"chapterId"`
}
