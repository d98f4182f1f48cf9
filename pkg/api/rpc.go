package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coraldb/coral/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// No .proto file or protoc-generated package is available in this build
// environment, so ClusterAdmin hand-writes what protoc would otherwise
// produce: plain JSON-tagged request/response structs, a grpc.ServiceDesc
// wiring method names to handler funcs, and an encoding.Codec that marshals
// with encoding/json instead of proto.Marshal. Dialing, streaming,
// interceptors and TLS all still run through the real
// grpc.Server/grpc.ClientConn.

// Peer identifies one Raft voter by id and advertised address.
type Peer struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// BootstrapRequest requests formation of a brand-new cluster. Bootstrap
// refuses if any persistent state already exists.
type BootstrapRequest struct {
	InitialPeers []Peer `json:"initial_peers"`
}

type BootstrapResponse struct{}

// AddPeerRequest requests that id@addr be added as a Raft voter. Token is
// the join token minted by GenerateJoinToken, authenticating the request
// before a certificate has been issued to the joining node.
type AddPeerRequest struct {
	ID    string `json:"id"`
	Addr  string `json:"addr"`
	Token string `json:"token"`
}

type AddPeerResponse struct{}

type RemovePeerRequest struct {
	ID string `json:"id"`
}

type RemovePeerResponse struct{}

type InfoRequest struct{}

// InfoResponse is the {role, term, commit_index, apply_index, log_len}
// tuple reported by the info admin RPC.
type InfoResponse struct {
	Role        string `json:"role"`
	Term        uint64 `json:"term"`
	CommitIndex uint64 `json:"commit_index"`
	ApplyIndex  uint64 `json:"apply_index"`
	LogLen      uint64 `json:"log_len"`
}

// ProposeRequest carries a CommandBatch built by the exec CLI verb from one
// of a handful of canonical statement shapes. It is the minimal
// extension ClusterAdmin needs so that a CLI running against an
// already-started node has any way to submit a
// batch at all, standing in for the out-of-scope SQL frontend's wire
// protocol. Id is assigned server-side via StateMachine.NextCommandID; any
// Id the caller sets is overwritten.
type ProposeRequest struct {
	Batch types.CommandBatch `json:"batch"`
}

type ProposeResponse struct {
	Result BatchResultWire `json:"result"`
}

// BatchResultWire is the JSON-safe form of types.BatchResult. Go error
// values do not survive encoding/json (a non-nil error marshals to an
// empty object and refuses to unmarshal back), so errors cross the wire
// as plain strings. Typed sentinel matching is a server-side concern;
// by the time a result reaches a CLI it is only displayed.
type BatchResultWire struct {
	Id            uint64   `json:"id"`
	CommandErrors []string `json:"command_errors,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// ToWireResult flattens r for transport.
func ToWireResult(r types.BatchResult) BatchResultWire {
	w := BatchResultWire{Id: uint64(r.Id)}
	if r.Err != nil {
		w.Error = r.Err.Error()
	}
	for _, res := range r.Results {
		if res.Err != nil {
			w.CommandErrors = append(w.CommandErrors, res.Err.Error())
		} else {
			w.CommandErrors = append(w.CommandErrors, "")
		}
	}
	return w
}

// FromWireResult rebuilds a types.BatchResult from its wire form. The
// rebuilt errors are opaque strings, not the original sentinel values.
func FromWireResult(w BatchResultWire) types.BatchResult {
	r := types.BatchResult{Id: types.CommandId(w.Id)}
	if w.Error != "" {
		r.Err = errors.New(w.Error)
	}
	for _, e := range w.CommandErrors {
		var err error
		if e != "" {
			err = errors.New(e)
		}
		r.Results = append(r.Results, types.PerCommandResult{Err: err})
	}
	return r
}

// ReadRequest is the read-path RPC: a read against MVCC state by
// (table, primary key), standing in for the out-of-scope SQL frontend's
// read-plan execution. Linearizable selects the ReadIndex path, which
// only a leader serves; false serves a stale read directly from
// whichever node receives it.
type ReadRequest struct {
	Table        string      `json:"table"`
	PK           types.Value `json:"pk"`
	Linearizable bool        `json:"linearizable"`
}

type ReadResponse struct {
	Row   types.Row `json:"row"`
	Found bool      `json:"found"`
}

// GenerateTokenRequest asks the leader to mint a join token for Role
// ("node" for cluster members, "cli" for CLI clients).
type GenerateTokenRequest struct {
	Role string `json:"role"`
}

type GenerateTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RequestCertificateRequest requests a client certificate be issued using
// a join token. It is served over an unauthenticated channel (the token
// is the credential) so a
// CLI with no certificate yet can obtain one before any mTLS call.
type RequestCertificateRequest struct {
	NodeID string `json:"node_id"`
	Token  string `json:"token"`
}

type RequestCertificateResponse struct {
	Certificate []byte `json:"certificate"`
	PrivateKey  []byte `json:"private_key"`
	CACert      []byte `json:"ca_cert"`
}

// ClusterAdminServer is implemented by Server.
type ClusterAdminServer interface {
	Bootstrap(context.Context, *BootstrapRequest) (*BootstrapResponse, error)
	AddPeer(context.Context, *AddPeerRequest) (*AddPeerResponse, error)
	RemovePeer(context.Context, *RemovePeerRequest) (*RemovePeerResponse, error)
	Info(context.Context, *InfoRequest) (*InfoResponse, error)
	Propose(context.Context, *ProposeRequest) (*ProposeResponse, error)
	Read(context.Context, *ReadRequest) (*ReadResponse, error)
	GenerateToken(context.Context, *GenerateTokenRequest) (*GenerateTokenResponse, error)
	RequestCertificate(context.Context, *RequestCertificateRequest) (*RequestCertificateResponse, error)
}

func _ClusterAdmin_Bootstrap_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BootstrapRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterAdminServer).Bootstrap(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coral.ClusterAdmin/Bootstrap"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterAdminServer).Bootstrap(ctx, req.(*BootstrapRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClusterAdmin_AddPeer_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AddPeerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterAdminServer).AddPeer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coral.ClusterAdmin/AddPeer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterAdminServer).AddPeer(ctx, req.(*AddPeerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClusterAdmin_RemovePeer_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RemovePeerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterAdminServer).RemovePeer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coral.ClusterAdmin/RemovePeer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterAdminServer).RemovePeer(ctx, req.(*RemovePeerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClusterAdmin_Info_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterAdminServer).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coral.ClusterAdmin/Info"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterAdminServer).Info(ctx, req.(*InfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClusterAdmin_Propose_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ProposeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterAdminServer).Propose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coral.ClusterAdmin/Propose"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterAdminServer).Propose(ctx, req.(*ProposeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClusterAdmin_Read_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterAdminServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coral.ClusterAdmin/Read"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterAdminServer).Read(ctx, req.(*ReadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClusterAdmin_GenerateToken_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GenerateTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterAdminServer).GenerateToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coral.ClusterAdmin/GenerateToken"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterAdminServer).GenerateToken(ctx, req.(*GenerateTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClusterAdmin_RequestCertificate_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RequestCertificateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterAdminServer).RequestCertificate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coral.ClusterAdmin/RequestCertificate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterAdminServer).RequestCertificate(ctx, req.(*RequestCertificateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ClusterAdminServiceDesc is the hand-written stand-in for the
// protoc-generated grpc.ServiceDesc.
var ClusterAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: "coral.ClusterAdmin",
	HandlerType: (*ClusterAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Bootstrap", Handler: _ClusterAdmin_Bootstrap_Handler},
		{MethodName: "AddPeer", Handler: _ClusterAdmin_AddPeer_Handler},
		{MethodName: "RemovePeer", Handler: _ClusterAdmin_RemovePeer_Handler},
		{MethodName: "Info", Handler: _ClusterAdmin_Info_Handler},
		{MethodName: "Propose", Handler: _ClusterAdmin_Propose_Handler},
		{MethodName: "Read", Handler: _ClusterAdmin_Read_Handler},
		{MethodName: "GenerateToken", Handler: _ClusterAdmin_GenerateToken_Handler},
		{MethodName: "RequestCertificate", Handler: _ClusterAdmin_RequestCertificate_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/api/rpc.go",
}

// RegisterClusterAdminServer registers srv on s.
func RegisterClusterAdminServer(s *grpc.Server, srv ClusterAdminServer) {
	s.RegisterService(&ClusterAdminServiceDesc, srv)
}

// clusterAdminClient is the hand-written stand-in for the protoc-generated
// client stub.
type clusterAdminClient struct {
	cc grpc.ClientConnInterface
}

// NewClusterAdminClient wraps cc in the ClusterAdmin client stub.
func NewClusterAdminClient(cc grpc.ClientConnInterface) ClusterAdminServer {
	return &clusterAdminClient{cc: cc}
}

func (c *clusterAdminClient) Bootstrap(ctx context.Context, in *BootstrapRequest) (*BootstrapResponse, error) {
	out := new(BootstrapResponse)
	if err := c.cc.Invoke(ctx, "/coral.ClusterAdmin/Bootstrap", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterAdminClient) AddPeer(ctx context.Context, in *AddPeerRequest) (*AddPeerResponse, error) {
	out := new(AddPeerResponse)
	if err := c.cc.Invoke(ctx, "/coral.ClusterAdmin/AddPeer", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterAdminClient) RemovePeer(ctx context.Context, in *RemovePeerRequest) (*RemovePeerResponse, error) {
	out := new(RemovePeerResponse)
	if err := c.cc.Invoke(ctx, "/coral.ClusterAdmin/RemovePeer", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterAdminClient) Info(ctx context.Context, in *InfoRequest) (*InfoResponse, error) {
	out := new(InfoResponse)
	if err := c.cc.Invoke(ctx, "/coral.ClusterAdmin/Info", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterAdminClient) Propose(ctx context.Context, in *ProposeRequest) (*ProposeResponse, error) {
	out := new(ProposeResponse)
	if err := c.cc.Invoke(ctx, "/coral.ClusterAdmin/Propose", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterAdminClient) Read(ctx context.Context, in *ReadRequest) (*ReadResponse, error) {
	out := new(ReadResponse)
	if err := c.cc.Invoke(ctx, "/coral.ClusterAdmin/Read", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterAdminClient) GenerateToken(ctx context.Context, in *GenerateTokenRequest) (*GenerateTokenResponse, error) {
	out := new(GenerateTokenResponse)
	if err := c.cc.Invoke(ctx, "/coral.ClusterAdmin/GenerateToken", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterAdminClient) RequestCertificate(ctx context.Context, in *RequestCertificateRequest) (*RequestCertificateResponse, error) {
	out := new(RequestCertificateResponse)
	if err := c.cc.Invoke(ctx, "/coral.ClusterAdmin/RequestCertificate", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// jsonCodec implements encoding.Codec over encoding/json in place of
// protobuf wire encoding. Registered under the name "json" and forced on
// both the server (grpc.ForceServerCodec) and client
// (grpc.WithDefaultCallOptions(grpc.ForceCodec(...))) so no per-call
// content-subtype negotiation is needed.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Codec returns the ClusterAdmin wire codec, for callers that need to force
// it explicitly (grpc.ForceServerCodec / grpc.ForceCodec).
func Codec() encoding.Codec { return jsonCodec{} }
