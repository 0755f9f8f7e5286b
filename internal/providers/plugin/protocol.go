// Package plugin runs third-party search plugins as subprocesses over
// hashicorp/go-plugin (net/rpc). A plugin receives a query plus a Host that
// exposes only HTTP fetch and logging; it returns media results.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"runtime/debug"

	goplugin "github.com/hashicorp/go-plugin"
)

// Handshake must match between host and plugin binaries.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MEDIA_SEARCH_PLUGIN",
	MagicCookieValue: "media-search",
}

const pluginKey = "search"

// SourcePrefix marks plugin results in MediaItem.Sources.
const SourcePrefix = "plugin:"

var ErrPluginExport = errors.New("plugin does not export a search implementation")

type Info struct {
	Name        string
	Version     string
	Description string
}

type Request struct {
	Query    string
	Type     string
	Language string
}

// Result is one media item as reported by a plugin. Only Title is required.
type Result struct {
	Title            string
	Type             string
	ReleaseDate      string
	DirectorOrAuthor string
	Description      string
	Cast             []string
	Rating           string
	PosterURL        string
	SourceURL        string
}

// Searcher is what a plugin binary implements.
type Searcher interface {
	Info() Info
	Search(host Host, req Request) ([]Result, error)
}

// Host is the full capability set available to plugin code.
type Host interface {
	Fetch(req FetchRequest) (FetchResponse, error)
	Log(level, message string)
}

type FetchRequest struct {
	URL     string
	Headers map[string]string
}

type FetchResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// SearchPlugin is the go-plugin glue for Searcher.
type SearchPlugin struct {
	Impl Searcher
}

func (p *SearchPlugin) Server(broker *goplugin.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, ErrPluginExport
	}
	return &rpcServer{impl: p.Impl, broker: broker}, nil
}

func (p *SearchPlugin) Client(broker *goplugin.MuxBroker, client *rpc.Client) (interface{}, error) {
	return &RPCClient{client: client, broker: broker}, nil
}

// PluginMap is what the host dispenses from.
var PluginMap = map[string]goplugin.Plugin{
	pluginKey: &SearchPlugin{},
}

// Serve is called from a plugin binary's main.
func Serve(impl Searcher) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			pluginKey: &SearchPlugin{Impl: impl},
		},
	})
}

type SearchArgs struct {
	Request Request
	HostID  uint32
}

type SearchReply struct {
	Results []Result
	Error   string
}

// ---------------------------------------------------------------------------
// Host side
// ---------------------------------------------------------------------------

// RPCClient is the host's handle on a running plugin.
type RPCClient struct {
	client *rpc.Client
	broker *goplugin.MuxBroker
}

func (c *RPCClient) Info() (Info, error) {
	var info Info
	err := c.client.Call("Plugin.Info", new(interface{}), &info)
	return info, err
}

// Search serves host on a brokered connection for the duration of the call
// and returns when the plugin answers or ctx ends.
func (c *RPCClient) Search(ctx context.Context, host Host, req Request) ([]Result, error) {
	hostID := c.broker.NextId()
	go c.broker.AcceptAndServe(hostID, &hostRPCServer{host: host})

	var reply SearchReply
	call := c.client.Go("Plugin.Search", SearchArgs{Request: req, HostID: hostID}, &reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case done := <-call.Done:
		if done.Error != nil {
			return nil, done.Error
		}
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply.Results, nil
}

type hostRPCServer struct {
	host Host
}

func (s *hostRPCServer) Fetch(args FetchRequest, resp *FetchResponse) error {
	out, err := s.host.Fetch(args)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

type LogArgs struct {
	Level   string
	Message string
}

func (s *hostRPCServer) Log(args LogArgs, resp *bool) error {
	s.host.Log(args.Level, args.Message)
	*resp = true
	return nil
}

// ---------------------------------------------------------------------------
// Plugin side
// ---------------------------------------------------------------------------

type rpcServer struct {
	impl   Searcher
	broker *goplugin.MuxBroker
}

func (s *rpcServer) Info(_ interface{}, resp *Info) error {
	*resp = s.impl.Info()
	return nil
}

func (s *rpcServer) Search(args SearchArgs, resp *SearchReply) (err error) {
	defer func() {
		if r := recover(); r != nil {
			resp.Results = nil
			resp.Error = fmt.Sprintf("plugin panic: %v\n%s", r, debug.Stack())
			err = nil
		}
	}()

	conn, err := s.broker.Dial(args.HostID)
	if err != nil {
		resp.Error = fmt.Sprintf("dial host: %v", err)
		return nil
	}
	host := &hostRPCClient{client: rpc.NewClient(conn)}
	defer host.client.Close()

	results, searchErr := s.impl.Search(host, args.Request)
	if searchErr != nil {
		resp.Error = searchErr.Error()
		return nil
	}
	resp.Results = results
	return nil
}

type hostRPCClient struct {
	client *rpc.Client
}

func (h *hostRPCClient) Fetch(req FetchRequest) (FetchResponse, error) {
	var resp FetchResponse
	err := h.client.Call("Plugin.Fetch", req, &resp)
	return resp, err
}

func (h *hostRPCClient) Log(level, message string) {
	var ok bool
	_ = h.client.Call("Plugin.Log", LogArgs{Level: level, Message: message}, &ok)
}
