package rpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/yosida95/uritemplate/v3"

	"github.com/interactive-rpc/go-sdk/schema"
)

// Role distinguishes the two stream endpoints a Client can open, matching
// the manifest's split between a participant view and the game's
// privileged control connection.
type Role int

const (
	// ParticipantRole connects to the per-viewer stream.
	ParticipantRole Role = iota
	// GameRole connects to the game's privileged control stream and sends
	// the extra X-Interactive-Version header the server requires from it.
	GameRole
)

func (r Role) String() string {
	if r == GameRole {
		return "game"
	}
	return "participant"
}

// defaultEndpointTemplates are expanded with {scheme}, {host} and
// {interactiveVersion}, for both roles. Callers needing a different path layout
// set ClientOptions.EndpointTemplate directly.
var defaultEndpointTemplates = map[Role]*uritemplate.Template{
	ParticipantRole: uritemplate.MustNew("{scheme}://{host}/participant/{interactiveVersion}"),
	GameRole:        uritemplate.MustNew("{scheme}://{host}/game/{interactiveVersion}"),
}

// ClientOptions configures a Client. Scheme/Host/InteractiveVersion feed
// the endpoint template; the rest is forwarded to the underlying Socket.
type ClientOptions struct {
	Scheme             string // "ws" or "wss"; default "wss"
	Host               string
	InteractiveVersion string

	// EndpointTemplate overrides the role's default URI template.
	EndpointTemplate *uritemplate.Template

	Header http.Header
	Token  string
	// TokenProvider, if set, is consulted fresh before every (re)connect
	// attempt and supersedes Token; see SocketOptions.TokenProvider.
	TokenProvider    func(ctx context.Context) (string, error)
	ReconnectChecker ReconnectChecker
	Transport        Transport
	SkipPreflight    bool

	OnStateChange func(SocketState)
	OnError       func(error)
}

// Client is the role-aware facade spec.md describes: it expands a role's
// endpoint template into a stream URL, opens a Socket against it with
// role-appropriate headers, and offers Execute as sugar over the Socket's
// request/reply call. Higher-level RPCs (scene/control CRUD, readiness
// signalling, transaction capture) are thin callers of Execute built
// outside this package.
type Client struct {
	role   Role
	opts   ClientOptions
	socket *Socket

	onPush  func(Method)
	schemas map[string]*schema.Validator
}

// NewClient constructs a Client for role, not yet connected.
func NewClient(role Role, opts ClientOptions) *Client {
	return &Client{
		role:    role,
		opts:    opts,
		schemas: make(map[string]*schema.Validator),
	}
}

// RegisterSchema attaches a schema.Validator to method, validating
// outbound params before the frame is written and inbound push params of
// the same name before OnPush is called. Off by default; a method with no
// registered schema is never validated.
func (c *Client) RegisterSchema(method string, v *schema.Validator) {
	c.schemas[method] = v
}

// OnPush registers the handler invoked for every inbound server push.
func (c *Client) OnPush(fn func(Method)) {
	c.onPush = fn
}

func (c *Client) endpointURL() (string, error) {
	tpl := c.opts.EndpointTemplate
	if tpl == nil {
		tpl = defaultEndpointTemplates[c.role]
	}
	scheme := c.opts.Scheme
	if scheme == "" {
		scheme = "wss"
	}
	values := uritemplate.Values{
		"scheme":             uritemplate.String(scheme),
		"host":               uritemplate.String(c.opts.Host),
		"interactiveVersion": uritemplate.String(c.opts.InteractiveVersion),
	}
	u, err := tpl.Expand(values)
	if err != nil {
		return "", fmt.Errorf("client: expanding endpoint template: %w", err)
	}
	return u, nil
}

// Open expands the role's endpoint URL and opens the underlying Socket
// against it. Role-specific headers (X-Interactive-Version for the game
// role) are merged with caller-supplied headers.
func (c *Client) Open(ctx context.Context) error {
	url, err := c.endpointURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	for k, vs := range c.opts.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if c.role == GameRole {
		header.Set("X-Interactive-Version", c.opts.InteractiveVersion)
	}

	c.socket = NewSocket(SocketOptions{
		URL:              url,
		Header:           header,
		Token:            c.opts.Token,
		TokenProvider:    c.opts.TokenProvider,
		ReconnectChecker: c.opts.ReconnectChecker,
		Transport:        c.opts.Transport,
		SkipPreflight:    c.opts.SkipPreflight,
		OnStateChange:    c.opts.OnStateChange,
		OnError:          c.opts.OnError,
		OnPush:           c.handlePush,
	})
	return c.socket.Connect(ctx)
}

func (c *Client) handlePush(m Method) {
	if v, ok := c.schemas[m.Name]; ok {
		if err := v.Validate(m.Params); err != nil {
			if c.opts.OnError != nil {
				c.opts.OnError(&SchemaError{Method: m.Name, Cause: err})
			}
			return
		}
	}
	if c.onPush != nil {
		c.onPush(m)
	}
}

// Execute is sugar over the Socket's request/reply call: it validates
// params against any schema registered for name, then forwards to
// Socket.Execute.
func (c *Client) Execute(ctx context.Context, name string, params []byte, discard bool) ([]byte, error) {
	if v, ok := c.schemas[name]; ok {
		if err := v.Validate(params); err != nil {
			return nil, &SchemaError{Method: name, Cause: err}
		}
	}
	if c.socket == nil {
		return nil, fmt.Errorf("client: Execute called before Open")
	}
	return c.socket.Execute(ctx, name, params, discard, nil)
}

// State reports the underlying Socket's state.
func (c *Client) State() SocketState {
	if c.socket == nil {
		return SocketIdle
	}
	return c.socket.GetState()
}

// Close tears down the underlying Socket.
func (c *Client) Close() error {
	if c.socket == nil {
		return nil
	}
	return c.socket.Close()
}
