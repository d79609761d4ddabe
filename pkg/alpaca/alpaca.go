// Package alpaca drives an alt-az mount through the ASCOM Alpaca REST API.
// Reference: https://ascom-standards.org/Developer/Alpaca.htm
package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotConnected is returned by motion calls made before Connect.
var ErrNotConnected = errors.New("telescope not connected")

// Config locates the Alpaca telescope device.
type Config struct {
	// BaseURL is the Alpaca server address (e.g., "http://192.168.1.100:11111")
	BaseURL string

	// DeviceNumber is the telescope device number (typically 0)
	DeviceNumber int

	// Timeout bounds each HTTP request. Zero means 10 seconds.
	Timeout time.Duration
}

// Client is an Alpaca telescope client. It implements the mount driver
// interfaces: slewing, position, homing and parking. Safe for concurrent use.
type Client struct {
	cfg        Config
	clientID   int
	txn        atomic.Int32
	httpClient *http.Client

	mu        sync.RWMutex
	connected bool
}

// Status is a point-in-time view of the mount.
type Status struct {
	Connected bool    `json:"connected"`
	Slewing   bool    `json:"slewing"`
	AtPark    bool    `json:"atPark"`
	AtHome    bool    `json:"atHome"`
	Altitude  float64 `json:"altitude"` // Degrees above horizon
	Azimuth   float64 `json:"azimuth"`  // Degrees from north
}

// NewClient creates a client for the configured device. Call Connect before
// commanding motion.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		// The Alpaca specification asks for a per-session client id.
		clientID:   int(time.Now().Unix() % 65536),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Connect establishes a connection to the telescope.
// Implements: PUT /api/v1/telescope/{device_number}/connected
func (c *Client) Connect(ctx context.Context) error {
	if err := c.put(ctx, "connected", url.Values{"Connected": {"true"}}); err != nil {
		return fmt.Errorf("failed to connect to telescope: %w", err)
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect closes the connection to the telescope.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.isConnected() {
		return nil
	}
	if err := c.put(ctx, "connected", url.Values{"Connected": {"false"}}); err != nil {
		return fmt.Errorf("failed to disconnect from telescope: %w", err)
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// SlewTo starts an asynchronous slew to (az, el) in degrees. A parked
// mount is unparked first.
// Implements: PUT /api/v1/telescope/{device_number}/slewtoaltazasync
func (c *Client) SlewTo(ctx context.Context, az, el float64) error {
	if !c.isConnected() {
		return ErrNotConnected
	}

	parked, err := c.getBool(ctx, "atpark")
	if err == nil && parked {
		if err := c.put(ctx, "unpark", nil); err != nil {
			return fmt.Errorf("failed to unpark telescope: %w", err)
		}
	}

	params := url.Values{}
	params.Add("Azimuth", strconv.FormatFloat(az, 'f', 6, 64))
	params.Add("Altitude", strconv.FormatFloat(el, 'f', 6, 64))
	if err := c.put(ctx, "slewtoaltazasync", params); err != nil {
		return fmt.Errorf("failed to slew telescope: %w", err)
	}
	return nil
}

// IsSlewing reports whether the mount is still moving.
// Implements: GET /api/v1/telescope/{device_number}/slewing
func (c *Client) IsSlewing(ctx context.Context) (bool, error) {
	if !c.isConnected() {
		return false, ErrNotConnected
	}
	slewing, err := c.getBool(ctx, "slewing")
	if err != nil {
		return false, fmt.Errorf("failed to get slewing status: %w", err)
	}
	return slewing, nil
}

// Abort immediately stops any telescope motion.
// Implements: PUT /api/v1/telescope/{device_number}/abortslew
func (c *Client) Abort(ctx context.Context) error {
	if !c.isConnected() {
		return ErrNotConnected
	}
	if err := c.put(ctx, "abortslew", nil); err != nil {
		return fmt.Errorf("failed to abort slew: %w", err)
	}
	return nil
}

// Position returns the current azimuth and altitude in degrees.
func (c *Client) Position(ctx context.Context) (az, el float64, err error) {
	if !c.isConnected() {
		return 0, 0, ErrNotConnected
	}
	if az, err = c.getFloat64(ctx, "azimuth"); err != nil {
		return 0, 0, fmt.Errorf("failed to get azimuth: %w", err)
	}
	if el, err = c.getFloat64(ctx, "altitude"); err != nil {
		return 0, 0, fmt.Errorf("failed to get altitude: %w", err)
	}
	return az, el, nil
}

// FindHome runs the mount's homing routine. Completion is observed
// through IsSlewing.
// Implements: PUT /api/v1/telescope/{device_number}/findhome
func (c *Client) FindHome(ctx context.Context) error {
	if !c.isConnected() {
		return ErrNotConnected
	}
	if err := c.put(ctx, "findhome", nil); err != nil {
		return fmt.Errorf("failed to find home: %w", err)
	}
	return nil
}

// Park moves the mount to its park position.
// Implements: PUT /api/v1/telescope/{device_number}/park
func (c *Client) Park(ctx context.Context) error {
	if !c.isConnected() {
		return ErrNotConnected
	}
	if err := c.put(ctx, "park", nil); err != nil {
		return fmt.Errorf("failed to park telescope: %w", err)
	}
	return nil
}

// Status gathers the mount state in one call. Park and home flags are
// optional in Alpaca and default to false when unsupported.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	connected, err := c.getBool(ctx, "connected")
	if err != nil {
		return nil, fmt.Errorf("failed to get connection status: %w", err)
	}
	st := &Status{Connected: connected}
	if !connected {
		return st, nil
	}

	if st.Slewing, err = c.getBool(ctx, "slewing"); err != nil {
		return nil, fmt.Errorf("failed to get slewing: %w", err)
	}
	if st.Altitude, err = c.getFloat64(ctx, "altitude"); err != nil {
		return nil, fmt.Errorf("failed to get altitude: %w", err)
	}
	if st.Azimuth, err = c.getFloat64(ctx, "azimuth"); err != nil {
		return nil, fmt.Errorf("failed to get azimuth: %w", err)
	}
	st.AtPark, _ = c.getBool(ctx, "atpark")
	st.AtHome, _ = c.getBool(ctx, "athome")
	return st, nil
}

func (c *Client) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// transactionID returns the next client transaction id. Alpaca requires
// it to fit in an unsigned 32-bit integer; wrapping is allowed.
func (c *Client) transactionID() int {
	return int(uint32(c.txn.Add(1)))
}

func (c *Client) endpoint(name string) string {
	return fmt.Sprintf("%s/api/v1/telescope/%d/%s", c.cfg.BaseURL, c.cfg.DeviceNumber, name)
}

func (c *Client) ids() url.Values {
	v := url.Values{}
	v.Set("ClientID", strconv.Itoa(c.clientID))
	v.Set("ClientTransactionID", strconv.Itoa(c.transactionID()))
	return v
}

// get performs an HTTP GET request to an Alpaca endpoint.
func (c *Client) get(ctx context.Context, name string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(name)+"?"+c.ids().Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// put performs an HTTP PUT request with a form-encoded body.
func (c *Client) put(ctx context.Context, name string, params url.Values) error {
	form := c.ids()
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint(name), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) (*response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpaca HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if err := r.Error(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) getBool(ctx context.Context, name string) (bool, error) {
	r, err := c.get(ctx, name)
	if err != nil {
		return false, err
	}
	v, ok := r.Value.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected response type for %s: %T", name, r.Value)
	}
	return v, nil
}

func (c *Client) getFloat64(ctx context.Context, name string) (float64, error) {
	r, err := c.get(ctx, name)
	if err != nil {
		return 0, err
	}
	v, ok := r.Value.(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected response type for %s: %T", name, r.Value)
	}
	return v, nil
}

// response is the standard Alpaca API response envelope.
type response struct {
	Value               any    `json:"Value"`
	ClientTransactionID int    `json:"ClientTransactionID"`
	ServerTransactionID int    `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
}

// Error returns an error if the response indicates failure.
func (r *response) Error() error {
	if r.ErrorNumber != 0 {
		return &DeviceError{Number: r.ErrorNumber, Message: r.ErrorMessage}
	}
	return nil
}

// DeviceError is an error reported by the Alpaca device itself.
type DeviceError struct {
	Number  int
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("alpaca error %d: %s", e.Number, e.Message)
}
