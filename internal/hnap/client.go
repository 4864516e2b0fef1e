package hnap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/dlink-core/internal/dlink"
)

// defaultUsername is the fixed admin account on HNAP devices; the PIN
// printed on the device label is its password.
const defaultUsername = "admin"

// placeholderPrivateKey signs the initial login request before a real
// private key has been derived from the server challenge.
const placeholderPrivateKey = "withoutloginkey"

// Client speaks the HNAP SOAP protocol to a single device.
//
// A Client is created once per device and re-used across the device's
// lifetime; Login() can be called again whenever the session expires
// (the device answers 403 or an ERROR result).
//
// Thread Safety: all methods are safe for concurrent use, though the
// device layer serialises calls per device in practice.
type Client struct {
	url        string
	username   string
	password   string
	httpClient *http.Client

	mu         sync.Mutex
	loggedIn   bool
	challenge  string
	publicKey  string
	cookie     string
	privateKey string
}

// Options configures a Client.
type Options struct {
	// Address is the device IP or host (no scheme, no path).
	Address string

	// PIN is the device PIN used as the admin password.
	PIN string

	// Username overrides the fixed admin account. Leave empty.
	Username string

	// Timeout bounds each HTTP round-trip. Zero means 5s.
	Timeout time.Duration

	// HTTPClient overrides the transport, used by tests.
	HTTPClient *http.Client
}

// NewClient creates a client for one device. No network traffic occurs
// until Login or an action is called.
func NewClient(opts Options) *Client {
	username := opts.Username
	if username == "" {
		username = defaultUsername
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		url:        fmt.Sprintf("http://%s/HNAP1", opts.Address),
		username:   username,
		password:   opts.PIN,
		httpClient: httpClient,
		privateKey: placeholderPrivateKey,
	}
}

// Login performs the two-phase HNAP challenge-response handshake.
//
// Phase one posts a credential-free "request" action; the device
// answers with a challenge, a public key, and a session cookie. The
// session private key is derived as HMAC(publicKey+password, challenge).
// Phase two posts the "login" action with
// LoginPassword = HMAC(privateKey, challenge).
//
// Returns:
//   - bool: true iff the device answered LoginResult "success". A clean
//     rejection returns (false, nil); transport failures return an error.
func (c *Client) Login(ctx context.Context) (bool, error) {
	c.mu.Lock()
	c.loggedIn = false
	c.privateKey = placeholderPrivateKey
	c.cookie = ""
	c.mu.Unlock()

	// Phase one: request the challenge.
	body := fmt.Sprintf(
		"<Action>request</Action><Username>%s</Username><LoginPassword/><Captcha/>",
		xmlEscape(c.username),
	)
	doc, _, err := c.post(ctx, "Login", body)
	if err != nil {
		return false, fmt.Errorf("login request phase: %w", err)
	}

	challenge := textOf(doc, "Challenge")
	publicKey := textOf(doc, "PublicKey")
	cookie := textOf(doc, "Cookie")
	if challenge == "" || publicKey == "" {
		return false, fmt.Errorf("%w: challenge missing from login response", ErrLoginFailed)
	}

	privateKey := dlink.HMACMD5Hex(publicKey+c.password, challenge)
	loginPassword := dlink.HMACMD5Hex(privateKey, challenge)

	c.mu.Lock()
	c.challenge = challenge
	c.publicKey = publicKey
	c.cookie = cookie
	c.privateKey = privateKey
	c.mu.Unlock()

	// Phase two: answer the challenge.
	body = fmt.Sprintf(
		"<Action>login</Action><Username>%s</Username><LoginPassword>%s</LoginPassword><Captcha/>",
		xmlEscape(c.username), loginPassword,
	)
	doc, _, err = c.post(ctx, "Login", body)
	if err != nil {
		return false, fmt.Errorf("login challenge phase: %w", err)
	}

	if !strings.EqualFold(textOf(doc, "LoginResult"), "success") {
		return false, nil
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	return true, nil
}

// LoggedIn reports whether the last Login succeeded and no call has
// since invalidated the session.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// Invalidate clears the session so the next operation requires Login.
// Called by the device layer when a call reports session expiry.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
}

// Disconnect invalidates the session. HNAP is plain HTTP so there is
// no connection to close; the method exists so SOAP and websocket
// clients present the same session surface.
func (c *Client) Disconnect() {
	c.Invalidate()
}

// Value executes an action and extracts a single result element's text.
func (c *Client) Value(ctx context.Context, action, resultField, body string) (string, error) {
	doc, err := c.call(ctx, action, body)
	if err != nil {
		return "", err
	}

	el := doc.find(resultField)
	if el == nil {
		return "", fmt.Errorf("%w: %s in %s response", ErrMissingField, resultField, action)
	}
	text, _ := el.value()
	return text, nil
}

// List executes an action and extracts an array-valued result: the
// text of each child of the named element, in document order.
func (c *Client) List(ctx context.Context, action, resultField, body string) ([]string, error) {
	doc, err := c.call(ctx, action, body)
	if err != nil {
		return nil, err
	}

	el := doc.find(resultField)
	if el == nil {
		return nil, fmt.Errorf("%w: %s in %s response", ErrMissingField, resultField, action)
	}
	text, list := el.value()
	if list == nil {
		return []string{text}, nil
	}
	return list, nil
}

// Values executes an action and extracts several result elements into
// a field name to text map. Missing fields map to the empty string;
// device firmware varies in which settings fields it reports.
func (c *Client) Values(ctx context.Context, action string, resultFields []string, body string) (map[string]string, error) {
	doc, err := c.call(ctx, action, body)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(resultFields))
	for _, field := range resultFields {
		out[field] = textOf(doc, field)
	}
	return out, nil
}

// Raw executes an action and returns the unparsed response body.
// The shared 403 handling still applies; the ERROR-result check does
// not, since callers want the body verbatim.
func (c *Client) Raw(ctx context.Context, action, body string) (string, error) {
	raw, _, err := c.postRaw(ctx, action, body)
	if err != nil {
		return "", err
	}
	return raw, nil
}

// call posts an authenticated action and applies the shared result
// checks: HTTP 403 means the session is gone, and a literal ERROR in
// the <Action>Result element means the device refused the request.
func (c *Client) call(ctx context.Context, action, body string) (*node, error) {
	doc, status, err := c.post(ctx, action, body)
	if err != nil {
		return nil, err
	}

	if result := textOf(doc, action+"Result"); strings.EqualFold(result, "ERROR") {
		code := status
		if status < http.StatusMultipleChoices {
			code = http.StatusForbidden
		}
		c.Invalidate()
		return nil, statusError(code, ErrRequestFailed)
	}

	return doc, nil
}

// post performs one signed HTTP round-trip and parses the response body.
func (c *Client) post(ctx context.Context, action, body string) (*node, int, error) {
	raw, status, err := c.postRaw(ctx, action, body)
	if err != nil {
		return nil, status, err
	}

	doc, err := parseDocument(strings.NewReader(raw))
	if err != nil {
		return nil, status, err
	}
	return doc, status, nil
}

// postRaw performs one signed HTTP round-trip and returns the body text.
func (c *Client) postRaw(ctx context.Context, action, body string) (string, int, error) {
	c.mu.Lock()
	privateKey := c.privateKey
	cookie := c.cookie
	c.mu.Unlock()

	actionURI := fmt.Sprintf(`"%s%s"`, Namespace, action)
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	auth := dlink.HMACMD5Hex(privateKey, timestamp+actionURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url,
		strings.NewReader(envelope(action, body)))
	if err != nil {
		return "", 0, fmt.Errorf("hnap: building request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", actionURI)
	req.Header.Set("HNAP_AUTH", auth+" "+timestamp)
	if cookie != "" {
		req.Header.Set("Cookie", "uid="+cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("hnap: %s: %w", action, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		c.Invalidate()
		return "", resp.StatusCode, statusError(resp.StatusCode, ErrUnauthorized)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("hnap: reading %s response: %w", action, err)
	}
	return string(raw), resp.StatusCode, nil
}

// textOf returns the text of the first element with the given local
// name, or "" when absent.
func textOf(doc *node, name string) string {
	el := doc.find(name)
	if el == nil {
		return ""
	}
	text, _ := el.value()
	return text
}
