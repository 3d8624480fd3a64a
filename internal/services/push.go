package services

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	googleTokenURL = "https://oauth2.googleapis.com/token"
	fcmScope       = "https://www.googleapis.com/auth/firebase.messaging"
	fcmSendURL     = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

	pushTimeout = 10 * time.Second

	// accessTokenSlack renews the cached token this long before its
	// actual expiry.
	accessTokenSlack = 5 * time.Minute
)

// ErrPushNotConfigured means the Firebase service account credentials
// are absent; every Send fails with it and the dispatcher counts the
// alert as failed.
var ErrPushNotConfigured = errors.New("push delivery not configured")

// FCMClient delivers push notifications through the FCM HTTP v1 API.
// It exchanges a signed service-account assertion for a short-lived
// access token and caches it until shortly before expiry.
type FCMClient struct {
	client      *http.Client
	projectID   string
	clientEmail string
	privateKey  *rsa.PrivateKey
	tokenURL    string
	sendURL     string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewFCMClient creates an FCM client from service-account credentials.
// With any credential missing it returns a disabled client: Send fails
// with ErrPushNotConfigured, which keeps the dispatcher's bookkeeping
// intact without push being set up.
func NewFCMClient(projectID, clientEmail, privateKeyPEM string) (*FCMClient, error) {
	c := &FCMClient{
		client:   &http.Client{Timeout: pushTimeout},
		tokenURL: googleTokenURL,
	}

	if projectID == "" || clientEmail == "" || privateKeyPEM == "" {
		log.Println("FCM client: credentials not configured, push delivery disabled")
		return c, nil
	}

	// Env vars carry the key with literal \n sequences
	pemData := strings.ReplaceAll(privateKeyPEM, `\n`, "\n")
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Firebase private key: %w", err)
	}

	c.projectID = projectID
	c.clientEmail = clientEmail
	c.privateKey = key
	c.sendURL = fmt.Sprintf(fcmSendURL, projectID)
	return c, nil
}

// Enabled reports whether credentials were configured.
func (c *FCMClient) Enabled() bool {
	return c.privateKey != nil
}

// fcmMessage is the FCM v1 request envelope.
type fcmMessage struct {
	Message struct {
		Token        string            `json:"token"`
		Notification fcmNotification   `json:"notification"`
		Data         map[string]string `json:"data,omitempty"`
		APNS         *fcmAPNS          `json:"apns,omitempty"`
		Android      *fcmAndroid       `json:"android,omitempty"`
	} `json:"message"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAPNS struct {
	Payload struct {
		APS struct {
			Sound string `json:"sound"`
			Badge int    `json:"badge"`
		} `json:"aps"`
	} `json:"payload"`
}

type fcmAndroid struct {
	Priority     string `json:"priority"`
	Notification struct {
		Sound string `json:"sound"`
	} `json:"notification"`
}

// Send delivers one notification to a destination token.
func (c *FCMClient) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if !c.Enabled() {
		return ErrPushNotConfigured
	}

	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("credential exchange failed: %w", err)
	}

	var msg fcmMessage
	msg.Message.Token = token
	msg.Message.Notification = fcmNotification{Title: title, Body: body}
	msg.Message.Data = data

	apns := &fcmAPNS{}
	apns.Payload.APS.Sound = "default"
	apns.Payload.APS.Badge = 1
	msg.Message.APNS = apns

	android := &fcmAndroid{Priority: "high"}
	android.Notification.Sound = "default"
	msg.Message.Android = android

	payload, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to encode FCM message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach FCM: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("FCM rejected message: status %d: %s", resp.StatusCode, detail)
	}

	return nil
}

// getAccessToken returns a valid OAuth access token, exchanging a fresh
// RS256 assertion when the cached token is near expiry.
func (c *FCMClient) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-accessTokenSlack)) {
		return c.accessToken, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   c.clientEmail,
		"sub":   c.clientEmail,
		"aud":   googleTokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"scope": fcmScope,
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token exchange rejected: status %d: %s", resp.StatusCode, detail)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token exchange returned empty access token")
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return c.accessToken, nil
}
