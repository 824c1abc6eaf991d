// Package linkedin publishes member posts through the UGC Posts API and
// handles the OAuth flow that authorizes posting.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.linkedin.com"
	authURL        = "https://www.linkedin.com/oauth/v2/authorization"
	tokenURL       = "https://www.linkedin.com/oauth/v2/accessToken"

	restliVersion = "2.0.0"
	maxImageBytes = 10 << 20
)

// OAuthScopes identify the member and allow posting on their behalf.
var OAuthScopes = []string{"openid", "profile", "email", "w_member_social"}

// OAuthConfig builds the oauth2 config for the LinkedIn member flow.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       OAuthScopes,
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
	}
}

// Client talks to the LinkedIn REST API. Tokens are passed per call; the
// client itself holds no credentials.
type Client struct {
	BaseURL string
	Client  *http.Client
	Limiter *rate.Limiter
	Logger  *log.Logger
}

func NewClient() *Client {
	c := &Client{}
	c.ensureDefaults()
	return c
}

func (c *Client) ensureDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(rate.Limit(1), 2)
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Userinfo is the OpenID Connect identity behind an access token.
type Userinfo struct {
	Sub   string
	Name  string
	Email string
}

// FetchUserinfo resolves the member identity for a freshly exchanged token.
func (c *Client) FetchUserinfo(ctx context.Context, token string) (Userinfo, error) {
	c.ensureDefaults()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v2/userinfo", nil)
	if err != nil {
		return Userinfo{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return Userinfo{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Userinfo{}, fmt.Errorf("read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Userinfo{}, fmt.Errorf("userinfo status=%d body=%s", resp.StatusCode, truncate(string(body), 600))
	}

	info := Userinfo{
		Sub:   gjson.GetBytes(body, "sub").String(),
		Name:  gjson.GetBytes(body, "name").String(),
		Email: gjson.GetBytes(body, "email").String(),
	}
	if info.Sub == "" {
		return Userinfo{}, fmt.Errorf("userinfo response carries no member id")
	}
	return info, nil
}

// PersonURN normalizes a bare member id to the urn:li:person form.
func PersonURN(owner string) string {
	if strings.HasPrefix(owner, "urn:li:person:") {
		return owner
	}
	return "urn:li:person:" + owner
}

// Publish creates a UGC post for the member behind token. With an imageURL
// the image is fetched, uploaded via the two-step assets flow, and attached.
// Returns the new post URN.
func (c *Client) Publish(ctx context.Context, token, owner, content, imageURL string) (string, error) {
	c.ensureDefaults()
	if strings.TrimSpace(token) == "" || strings.TrimSpace(owner) == "" {
		return "", fmt.Errorf("LinkedIn not connected. Please connect your LinkedIn account in settings.")
	}

	authorURN := PersonURN(owner)

	var assetURN string
	if imageURL != "" {
		image, err := c.fetchImage(ctx, imageURL)
		if err != nil {
			return "", err
		}
		assetURN, err = c.uploadImage(ctx, token, authorURN, image)
		if err != nil {
			return "", err
		}
	}

	share := map[string]interface{}{
		"shareCommentary":    map[string]string{"text": content},
		"shareMediaCategory": "NONE",
	}
	if assetURN != "" {
		share["shareMediaCategory"] = "IMAGE"
		share["media"] = []map[string]interface{}{
			{"status": "READY", "media": assetURN},
		}
	}
	payload := map[string]interface{}{
		"author":         authorURN,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": share,
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	if err := c.Limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ugc request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", restliVersion)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ugc post request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read ugc response: %w", err)
	}
	// The UGC API answers 201 on success.
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("ugc post status=%d body=%s", resp.StatusCode, truncate(string(respBody), 600))
	}

	urn := resp.Header.Get("X-RestLi-Id")
	if urn == "" {
		urn = gjson.GetBytes(respBody, "id").String()
	}
	c.Logger.Printf("[LinkedIn] published urn=%s image=%v", urn, assetURN != "")
	return urn, nil
}

func (c *Client) fetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image status=%d", resp.StatusCode)
	}
	image, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return image, nil
}

// uploadImage runs the two-step assets flow: register the upload to get an
// asset URN plus upload URL, then PUT the bytes there.
func (c *Client) uploadImage(ctx context.Context, token, ownerURN string, image []byte) (string, error) {
	register := map[string]interface{}{
		"registerUploadRequest": map[string]interface{}{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   ownerURN,
			"serviceRelationships": []map[string]string{
				{"relationshipType": "OWNER", "identifier": "urn:li:userGeneratedContent"},
			},
		},
	}
	body, _ := json.Marshal(register)

	if err := c.Limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/assets?action=registerUpload", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", restliVersion)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("register upload request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read register response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("register upload status=%d body=%s", resp.StatusCode, truncate(string(respBody), 600))
	}

	assetURN := gjson.GetBytes(respBody, "value.asset").String()
	uploadURL := gjson.GetBytes(respBody, `value.uploadMechanism.com\.linkedin\.digitalmedia\.uploading\.MediaUploadHttpRequest.uploadUrl`).String()
	if assetURN == "" || uploadURL == "" {
		return "", fmt.Errorf("register upload response missing asset or uploadUrl")
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	putReq.Header.Set("Authorization", "Bearer "+token)

	putResp, err := c.Client.Do(putReq)
	if err != nil {
		return "", fmt.Errorf("upload image request: %w", err)
	}
	defer putResp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(putResp.Body, 1<<20))

	if putResp.StatusCode != http.StatusOK && putResp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload image status=%d", putResp.StatusCode)
	}
	return assetURN, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
