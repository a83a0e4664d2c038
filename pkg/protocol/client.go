package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coffer-backup/coffer-go/pkg/restore"
	"github.com/coffer-backup/coffer-go/pkg/transport"
	"github.com/coffer-backup/coffer-go/pkg/wire"
)

// ErrDenied is returned when the server refuses a privileged operation
// because the session is not authenticated.
var ErrDenied = errors.New("operation denied")

// Client speaks the coffer protocol from the client side of a session.
// Requests are synchronous: one in flight at a time, bounded by the
// session timeout.
type Client struct {
	mu       sync.Mutex
	sess     transport.SessionConn
	greeting *wire.Greeting
	nextID   uint32
}

// NewClient consumes the server greeting and returns a ready client.
func NewClient(sess transport.SessionConn) (*Client, error) {
	frame, err := sess.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	greeting, err := wire.DecodeGreeting(frame)
	if err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	return &Client{
		sess:     sess,
		greeting: greeting,
	}, nil
}

// Greeting returns the greeting the server sent at session start.
func (c *Client) Greeting() *wire.Greeting {
	return c.greeting
}

// Authenticated reports whether the server accepted the client certificate.
func (c *Client) Authenticated() bool {
	return c.greeting.Authenticated
}

// Do sends one request and waits for the matching response. A nil payload
// sends a bare request. The response is returned whatever its status;
// callers decide what non-success means for their operation.
func (c *Client) Do(op wire.Operation, payload any) (*wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := &wire.Request{ID: c.nextID, Op: op}
	if payload != nil {
		raw, err := wire.EncodePayload(payload)
		if err != nil {
			return nil, err
		}
		req.Payload = raw
	}

	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := c.sess.WriteFrame(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	frame, err := c.sess.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	resp, err := wire.DecodeResponse(frame)
	if err != nil {
		return nil, err
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %d does not match request id %d", resp.ID, req.ID)
	}
	return resp, nil
}

// Ping checks that the server is responsive. Works on any session,
// authenticated or not.
func (c *Client) Ping() error {
	resp, err := c.Do(wire.OpPing, nil)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return responseError(resp)
	}
	return nil
}

// RestoreFile submits a restore job and returns the per-file outcomes.
// Returns ErrDenied when the session is not authenticated.
func (c *Client) RestoreFile(job *restore.Job) ([]restore.FileResult, error) {
	resp, err := c.Do(wire.OpRestoreFile, job)
	if err != nil {
		return nil, err
	}
	if resp.Status == wire.StatusDenied {
		return nil, fmt.Errorf("%w: %s", ErrDenied, resp.Error)
	}
	if !resp.IsSuccess() {
		return nil, responseError(resp)
	}

	var results []restore.FileResult
	if err := wire.DecodePayload(resp.Payload, &results); err != nil {
		return nil, fmt.Errorf("restore results: %w", err)
	}
	return results, nil
}

// Quit asks the server to end the session cleanly.
func (c *Client) Quit() error {
	resp, err := c.Do(wire.OpQuit, nil)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return responseError(resp)
	}
	return nil
}

// Close closes the underlying session.
func (c *Client) Close() error {
	return c.sess.Close()
}

func responseError(resp *wire.Response) error {
	if resp.Error != "" {
		return fmt.Errorf("server returned %s: %s", resp.Status, resp.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
